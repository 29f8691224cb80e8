// Package mqtt provides MQTT client connectivity for targetd.
//
// The broker is one of targetd's device provisioning sources: device
// agents announce handles and templates on retained topics, publish handle
// state, and receive boot and instantiate commands. targetd publishes the
// selected targets of each run configuration back as retained messages.
//
// Topic hierarchy:
//
//	targetd/provision/handle/{id}                 retained JSON, empty = withdrawn
//	targetd/provision/template/{id}               retained JSON, empty = withdrawn
//	targetd/state/{id}                            retained handle state
//	targetd/command/{id}/boot                     boot an offline handle
//	targetd/command/template/{id}/instantiate     start a template instance
//	targetd/core/selection/{runConfig}            retained selected targets
//	targetd/system/status                         retained online/offline (LWT)
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
