package proxy

import (
	"encoding/json"
	"fmt"
)

// ConsumerCommandTopic is the command topic the consumer service consumes.
const ConsumerCommandTopic = "consumer-commands"

const cmdVerify = "VerifyConsumerCommand"

// VerifyConsumerBody is the wire shape of a verify-consumer command. It
// carries no compensation: a consumer that fails verification simply fails
// the saga's forward path, there is nothing to undo.
type VerifyConsumerBody struct {
	ConsumerID string `json:"consumer_id"`
	OrderID    string `json:"order_id"`
}

// BuildVerifyConsumer marshals a verify-consumer command body.
func BuildVerifyConsumer(consumerID, orderID string) (string, []byte, error) {
	b, err := json.Marshal(VerifyConsumerBody{ConsumerID: consumerID, OrderID: orderID})
	if err != nil {
		return "", nil, fmt.Errorf("op=proxy.BuildVerifyConsumer: %w", err)
	}
	return cmdVerify, b, nil
}
