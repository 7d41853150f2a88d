package mqtt

import (
	"fmt"
	"strings"

	"github.com/nerrad567/knx-access/internal/knx"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "knx"

// Topic categories below the prefix.
const (
	CategoryState    = "state"
	CategoryWrite    = "write"
	CategoryRead     = "read"
	CategoryResponse = "response"
	CategoryEvent    = "event"
	CategoryStatus   = "status"
)

// Topics builds and parses knxaccess MQTT topics under one prefix.
//
//	topics := mqtt.Topics{Prefix: "home/knx"}
//	topics.State(ga) // "home/knx/state/1/2/3"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.Trim(t.Prefix, "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

// State returns the retained value topic for a group address.
func (t Topics) State(ga knx.GroupAddress) string {
	return t.address(CategoryState, ga)
}

// Write returns the write command topic for a group address.
func (t Topics) Write(ga knx.GroupAddress) string {
	return t.address(CategoryWrite, ga)
}

// Read returns the read command topic for a group address.
func (t Topics) Read(ga knx.GroupAddress) string {
	return t.address(CategoryRead, ga)
}

// Response returns the reply topic for a command's request ID.
func (t Topics) Response(requestID string) string {
	return fmt.Sprintf("%s/%s/%s", t.prefix(), CategoryResponse, requestID)
}

// Event returns the bus event topic.
func (t Topics) Event() string {
	return t.prefix() + "/" + CategoryEvent
}

// Status returns the online/offline topic used for the LWT.
func (t Topics) Status() string {
	return t.prefix() + "/" + CategoryStatus
}

// AllStates matches every state topic.
func (t Topics) AllStates() string {
	return t.prefix() + "/" + CategoryState + "/#"
}

// AllWrites matches every write command topic.
func (t Topics) AllWrites() string {
	return t.prefix() + "/" + CategoryWrite + "/#"
}

// AllReads matches every read command topic.
func (t Topics) AllReads() string {
	return t.prefix() + "/" + CategoryRead + "/#"
}

func (t Topics) address(category string, ga knx.GroupAddress) string {
	return fmt.Sprintf("%s/%s/%d/%d/%d", t.prefix(), category, ga.Main(), ga.Middle(), ga.Sub())
}

// ParseAddress splits an address topic into its category and group address.
//
// The topic must be {prefix}/{category}/{main}/{middle}/{sub}; anything
// else returns ErrInvalidTopic.
func (t Topics) ParseAddress(topic string) (category string, ga knx.GroupAddress, err error) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/")
	if !ok {
		return "", 0, fmt.Errorf("%w: %q is outside prefix %q", ErrInvalidTopic, topic, t.prefix())
	}

	category, addr, ok := strings.Cut(rest, "/")
	if !ok || strings.Count(addr, "/") != 2 {
		return "", 0, fmt.Errorf("%w: %q has no group address", ErrInvalidTopic, topic)
	}

	ga, err = knx.ParseGroupAddress(addr)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	return category, ga, nil
}
