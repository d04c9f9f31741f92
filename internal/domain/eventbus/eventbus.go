package eventbus

import (
	"sync"

	evbus "github.com/asaskevich/EventBus"
)

var (
	instance evbus.Bus
	asyncBus *AsyncEventBus
	once     sync.Once
)

// Get returns the process-wide synchronous event bus, lazily starting the
// async bus alongside it on first use.
func Get() evbus.Bus {
	once.Do(func() {
		instance = New()
		asyncBus = NewAsyncEventBus(10)
		asyncBus.bus = instance
		asyncBus.Start()
	})
	return instance
}

// GetAsync returns the process-wide async event bus.
func GetAsync() *AsyncEventBus {
	once.Do(func() {
		instance = New()
		asyncBus = NewAsyncEventBus(10)
		asyncBus.bus = instance
		asyncBus.Start()
	})
	return asyncBus
}

// New builds a fresh synchronous event bus, independent of the process
// singleton (used by tests that need isolation).
func New() evbus.Bus {
	return evbus.New()
}

// Publish fires topic synchronously on the process bus.
func Publish(topic string, args ...interface{}) {
	Get().Publish(topic, args...)
}

// PublishAsync enqueues topic for asynchronous delivery on the process bus.
func PublishAsync(topic string, args ...interface{}) {
	GetAsync().PublishAsync(topic, args...)
}

// Subscribe registers fn against topic on the process bus.
func Subscribe(topic string, fn interface{}) error {
	return Get().Subscribe(topic, fn)
}

// SubscribeAsync registers fn against topic on the async bus.
func SubscribeAsync(topic string, fn interface{}) error {
	return GetAsync().SubscribeAsync(topic, fn)
}

// Shutdown stops the async bus's worker pool.
func Shutdown() {
	if asyncBus != nil {
		asyncBus.Stop()
	}
}
