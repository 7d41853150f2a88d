// Package mqtt connects knxaccess to an MQTT broker.
//
// The gateway uses it to mirror group telegrams onto topics and to accept
// write and read commands from other services. This package only handles
// the broker session:
//   - Connection with auto-reconnect and subscription restore
//   - Publishing with QoS validation and a payload size cap
//   - Last Will and Testament on the status topic
//   - Topic construction and parsing for group addresses
//
// # Topic layout
//
// Every topic sits under a configurable prefix (default "knx"). Group
// addresses use their three-level form as topic levels:
//
//	knx/status                 online/offline (retained)
//	knx/state/1/2/3            last value seen on 1/2/3 (retained)
//	knx/write/1/2/3            command: write a value to 1/2/3
//	knx/read/1/2/3             command: read 1/2/3
//	knx/response/{request_id}  reply to a command carrying a request ID
//	knx/event                  bus connection events
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllWrites(), 1,
//	    func(topic string, payload []byte) error {
//	        ga, err := topics.ParseAddress(topic)
//	        ...
//	    })
package mqtt
