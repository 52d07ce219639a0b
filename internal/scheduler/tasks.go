package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const TaskOrderDelayCheck = "production.order.delay_check"

type OrderDelayCheckPayload struct {
	OrderID string `json:"orderId"`
	StageID string `json:"stageId"`
}

func NewOrderDelayCheckTask(payload OrderDelayCheckPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderDelayCheck, data), nil
}

func ParseOrderDelayCheckPayload(task *asynq.Task) (OrderDelayCheckPayload, error) {
	var payload OrderDelayCheckPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return OrderDelayCheckPayload{}, err
	}
	return payload, nil
}

// ids parses both ids of the payload.
func (p OrderDelayCheckPayload) ids() (uuid.UUID, uuid.UUID, error) {
	orderID, err := uuid.Parse(p.OrderID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("order id: %w", err)
	}
	stageID, err := uuid.Parse(p.StageID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("stage id: %w", err)
	}
	return orderID, stageID, nil
}

// delayTaskID makes one check per (order, stage) visit.
func delayTaskID(orderID, stageID uuid.UUID) string {
	return "delay:" + orderID.String() + ":" + stageID.String()
}
