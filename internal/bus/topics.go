package bus

import "fmt"

// Topic prefixes for the downstream bus.
const (
	// TopicPrefix is the base for all published topics.
	TopicPrefix = "ajaxsync"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "ajaxsync/system"
)

// Topics provides builders for bus topic names. Using these helpers keeps
// topic naming consistent between the publisher and its documentation.
//
//	topics := bus.Topics{}
//	stateTopic := topics.HubState("hub-01")
//	// Returns: "ajaxsync/state/hub-01"
type Topics struct{}

// HubState returns the retained snapshot topic for one hub.
//
// Example: ajaxsync/state/hub-01
func (Topics) HubState(hubID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, hubID)
}

// Event returns the security notification topic for one hub.
//
// Example: ajaxsync/event/hub-01
func (Topics) Event(hubID string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, hubID)
}

// Changes returns the debounced change-set announcement topic.
//
// Example: ajaxsync/changes
func (Topics) Changes() string {
	return fmt.Sprintf("%s/changes", TopicPrefix)
}

// SystemStatus returns the service status topic carrying the LWT.
//
// Example: ajaxsync/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllHubStates returns a pattern matching every hub snapshot topic.
//
// Pattern: ajaxsync/state/+
func (Topics) AllHubStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefix)
}

// AllEvents returns a pattern matching every hub event topic.
//
// Pattern: ajaxsync/event/+
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefix)
}
