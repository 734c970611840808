package event

import (
	"context"
	"sort"
	"sync"

	"github.com/blues/tgs/internal/logger"
	"github.com/blues/tgs/internal/logic"
)

// Processor 审计记录处理器
type Processor interface {
	Process(ctx context.Context, record logic.Record) error
	GetEventType() logic.RecordType
}

// ProcessorManager 记录处理器管理器
type ProcessorManager struct {
	mu         sync.RWMutex
	processors map[logic.RecordType]Processor
}

// NewProcessorManager 创建处理器管理器
func NewProcessorManager(processors ...Processor) *ProcessorManager {
	manager := &ProcessorManager{
		processors: make(map[logic.RecordType]Processor),
	}
	for _, p := range processors {
		manager.RegisterProcessor(p)
	}
	logger.Info("ProcessorManager initialized with %d processors", len(manager.processors))
	return manager
}

// RegisterProcessor 注册处理器，同类型后注册的覆盖先注册的
func (pm *ProcessorManager) RegisterProcessor(processor Processor) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	eventType := processor.GetEventType()
	pm.processors[eventType] = processor
	logger.Info("Registered processor for record type: %s", eventType)
}

// GetProcessor 获取指定类型的处理器
func (pm *ProcessorManager) GetProcessor(eventType logic.RecordType) (Processor, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	processor, exists := pm.processors[eventType]
	return processor, exists
}

// ProcessRecord 处理记录，没有处理器的记录直接跳过
func (pm *ProcessorManager) ProcessRecord(ctx context.Context, record logic.Record) error {
	processor, exists := pm.GetProcessor(record.Type)
	if !exists {
		return nil
	}
	return processor.Process(ctx, record)
}

// GetSupportedEventTypes 获取支持的记录类型
func (pm *ProcessorManager) GetSupportedEventTypes() []logic.RecordType {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	eventTypes := make([]logic.RecordType, 0, len(pm.processors))
	for eventType := range pm.processors {
		eventTypes = append(eventTypes, eventType)
	}
	sort.Slice(eventTypes, func(i, j int) bool { return eventTypes[i] < eventTypes[j] })
	return eventTypes
}
