package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for targetd's MQTT hierarchy.
const (
	TopicPrefix          = "targetd"
	TopicPrefixProvision = "targetd/provision"
	TopicPrefixCore      = "targetd/core"
	TopicPrefixSystem    = "targetd/system"
)

// Topics provides builders for targetd MQTT topics.
//
//	topic := mqtt.Topics{}.HandleState("emulator-5554")
//	// Returns: "targetd/state/emulator-5554"
type Topics struct{}

// =============================================================================
// Handles
// =============================================================================

// HandleState carries the current state of a handle.
//
// Example: targetd/state/emulator-5554
func (Topics) HandleState(id string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, id)
}

// HandleBoot asks the owner of an offline handle to boot it.
//
// Example: targetd/command/avd-pixel/boot
func (Topics) HandleBoot(id string) string {
	return fmt.Sprintf("%s/command/%s/boot", TopicPrefix, id)
}

// TemplateInstantiate asks the owner of a template to start an instance.
//
// Example: targetd/command/template/Pixel_9_API_35/instantiate
func (Topics) TemplateInstantiate(templateID string) string {
	return fmt.Sprintf("%s/command/template/%s/instantiate", TopicPrefix, templateID)
}

// =============================================================================
// Core output
// =============================================================================

// CoreSelection carries the retained selected targets of a run configuration.
//
// Example: targetd/core/selection/app
func (Topics) CoreSelection(runConfig string) string {
	return fmt.Sprintf("%s/selection/%s", TopicPrefixCore, runConfig)
}

// =============================================================================
// System
// =============================================================================

// SystemStatus carries the retained online/offline status of this service.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// =============================================================================
// Wildcards
// =============================================================================

// AllProvisionHandles matches every handle announcement.
func (Topics) AllProvisionHandles() string {
	return TopicPrefixProvision + "/handle/+"
}

// AllProvisionTemplates matches every template announcement.
func (Topics) AllProvisionTemplates() string {
	return TopicPrefixProvision + "/template/+"
}

// AllHandleStates matches every handle state topic.
func (Topics) AllHandleStates() string {
	return TopicPrefix + "/state/+"
}

// LastSegment returns the final level of topic, which is the ID in every
// provisioning and state topic. ok is false when the segment is empty.
func LastSegment(topic string) (id string, ok bool) {
	i := strings.LastIndexByte(topic, '/')
	id = topic[i+1:]
	return id, id != ""
}
