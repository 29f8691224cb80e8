// Package runconfig holds the named run configurations targetd selects
// targets for, tracks which one is active, and judges device compatibility
// against each configuration's requirements.
package runconfig
