package cardworker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

type queueStats struct {
	NumMessages  uint `json:"messages"`
	NumConsumers uint `json:"consumers"`
	MessageBytes uint `json:"message_bytes"`
}

type nodeStats struct {
	MemLimit uint64 `json:"mem_limit"`
	MemUsed  uint64 `json:"mem_used"`
}

const (
	factorForMessageAccept uint   = 2
	memoryThreshold        uint64 = 95
	resManagerInterval            = time.Second
)

// ResourceManager polls the RabbitMQ management API and opens the service only
// while workers are connected and the broker has memory to spare.
type ResourceManager struct {
	urlQueue string
	urlStat  string
	state    *ServiceState
	interval time.Duration
}

func NewResourceManager(rc RabbitConfig, state *ServiceState) *ResourceManager {
	return &ResourceManager{
		urlQueue: rc.AmqpAPIURI + rc.APIPathQueue + rc.APIQueueName,
		urlStat:  rc.AmqpAPIURI + rc.APIPathStats,
		state:    state,
		interval: resManagerInterval,
	}
}

// CheckForAcceptRequest checks if resources for incoming request are available
func (m *ResourceManager) CheckForAcceptRequest(statusChanged bool) bool {
	jsonQueueStat, err := url2bytes(m.urlQueue)
	if err != nil {
		log.Error().Err(err).Str("component", "CARD_RESMAN").Msg("can't get queue stats")
		return false
	}
	jsonResStat, err := url2bytes(m.urlStat)
	if err != nil {
		log.Error().Err(err).Str("component", "CARD_RESMAN").Msg("can't get RabbitMQ memory stats")
		return false
	}

	var queue queueStats
	if err = json.Unmarshal(jsonQueueStat, &queue); err != nil {
		log.Error().Err(err).Str("component", "CARD_RESMAN").
			Str("body", string(jsonQueueStat)).Msg("error unmarshaling json")
		return false
	}
	var nodes []nodeStats
	if err = json.Unmarshal(jsonResStat, &nodes); err != nil {
		log.Error().Err(err).Str("component", "CARD_RESMAN").
			Str("body", string(jsonResStat)).Msg("error unmarshaling json")
		return false
	}

	isAvailable := schedulerByMemoryLoad(nodes) && schedulerByWorkerNumber(queue)

	if statusChanged {
		log.Info().Str("component", "CARD_RESMAN").
			Uint("MessageBytes", queue.MessageBytes).
			Uint("NumConsumers", queue.NumConsumers).
			Uint("NumMessages", queue.NumMessages).
			Interface("nodes", nodes).
			Msg("CARD_RESMAN stats")

		if isAvailable {
			log.Info().Str("component", "CARD_RESMAN").Msg("open-card is operational with free resources. We are ready to serve")
		} else {
			log.Info().Str("component", "CARD_RESMAN").Msg("open-card is alive but won't serve any requests. Workers are busy or not connected")
		}
	}

	return isAvailable
}

// Run updates the service state until ctx ends.
func (m *ResourceManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// stats are logged on the first round and on the round after a flip
	logStats := true
	for {
		available := m.CheckForAcceptRequest(logStats)
		logStats = available != m.state.CanAccept()
		m.state.SetCanAccept(available)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// schedulerByMemoryLoad reports whether the broker nodes together use less
// than memoryThreshold percent of their memory limit.
func schedulerByMemoryLoad(nodes []nodeStats) bool {
	var memTotalAvailable uint64
	var memTotalInUse uint64
	for _, node := range nodes {
		memTotalInUse += node.MemUsed
		memTotalAvailable += node.MemLimit
	}
	return memTotalInUse < (memTotalAvailable*memoryThreshold)/100
}

// schedulerByWorkerNumber refuses new messages once the queue holds more than
// factorForMessageAccept messages per connected worker.
func schedulerByWorkerNumber(queue queueStats) bool {
	return queue.NumMessages < queue.NumConsumers*factorForMessageAccept
}
