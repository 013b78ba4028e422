package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// ensureTopic creates topic if it does not already exist, tolerating the
// TOPIC_ALREADY_EXISTS error code from a concurrent creator.
func ensureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000

	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = partitions
	topicReq.ReplicationFactor = replicationFactor
	req.Topics = append(req.Topics, topicReq)

	raw, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("create topic request: %w", err)
	}
	resp, ok := raw.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("unexpected response type: %T", raw)
	}

	for _, t := range resp.Topics {
		if t.ErrorCode != 0 {
			const topicAlreadyExists = 36
			if t.ErrorCode == topicAlreadyExists {
				slog.Debug("topic already exists", slog.String("topic", t.Topic))
				continue
			}
			msg := ""
			if t.ErrorMessage != nil {
				msg = *t.ErrorMessage
			}
			return fmt.Errorf("create topic %q: %s (code %d)", t.Topic, msg, t.ErrorCode)
		}
		slog.Info("topic created", slog.String("topic", t.Topic), slog.Int("partitions", int(partitions)))
	}
	return nil
}
