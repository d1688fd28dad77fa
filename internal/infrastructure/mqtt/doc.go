// Package mqtt connects odin-control to an MQTT broker.
//
// The client wraps paho.mqtt.golang with auto-reconnect, subscription
// restore after reconnect, panic recovery in handlers and a retained
// online/offline status with a matching Last Will and Testament.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllCommands(), client.QoS(), handle)
//
// Topic layout is described on Topics. TLS should be enabled whenever the
// broker is not on the local host.
package mqtt
