package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderstream/internal/domain"
	"github.com/vladislavdragonenkov/orderstream/internal/messaging/kafka"
)

// initPublisher создаёт Kafka producer, если brokers не пустой.
// Без брокеров или при ошибке подключения события отбрасываются.
func initPublisher(brokers []string, topic string, logger *log.Entry) (domain.EventPublisher, func()) {
	brokerList := cleanBrokers(brokers)
	if len(brokerList) == 0 {
		logger.Info("KAFKA_BROKERS не задан, события заказов не публикуются")
		return domain.DiscardPublisher{}, func() {}
	}

	producer, err := kafka.NewProducer(brokerList, topic, logger.WithField("component", "kafka-producer"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return domain.DiscardPublisher{}, func() {}
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, func() { closeKafka(producer, logger) }
}

func cleanBrokers(brokers []string) []string {
	out := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
