package warehouse

import (
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/warehouse-broker/internal/metrics"
)

var log = slog.Default()

// Config controls the size and pacing of a simulation run. Every field
// doubles as a YAML key for --config files; CLI flags are applied on top
// after loading.
type Config struct {
	FastMode              bool `yaml:"fast_mode"`
	LoaderCount           int  `yaml:"loaders"`
	ManagerCount          int  `yaml:"managers"`
	SimulationSeconds     int  `yaml:"duration_seconds"`
	TrucksPerManagerCycle int  `yaml:"trucks_per_manager_cycle"`

	ReceivingBerths    int `yaml:"receiving_berths"`
	ReceivingTerminals int `yaml:"receiving_terminals"`

	ShippingBerths    int `yaml:"shipping_berths"`
	ShippingTerminals int `yaml:"shipping_terminals"`

	PackingStations  int `yaml:"packing_stations"`
	PackingTerminals int `yaml:"packing_terminals"`

	StorageShelves       int `yaml:"storage_shelves"`
	StorageLayers        int `yaml:"storage_layers"`
	StorageSpotsPerLayer int `yaml:"storage_spots_per_layer"`
	StorageTerminals     int `yaml:"storage_terminals"`
}

// DefaultConfig mirrors the original simulation's defaults.
func DefaultConfig() Config {
	return Config{
		LoaderCount:           8,
		ManagerCount:          2,
		SimulationSeconds:     20,
		TrucksPerManagerCycle: 1,
		ReceivingBerths:       6,
		ReceivingTerminals:    6,
		ShippingBerths:        6,
		ShippingTerminals:     6,
		PackingStations:       4,
		PackingTerminals:      4,
		StorageShelves:        50,
		StorageLayers:         6,
		StorageSpotsPerLayer:  10,
		StorageTerminals:      4,
	}
}

// SimulationDuration converts SimulationSeconds to a time.Duration.
func (c Config) SimulationDuration() time.Duration {
	return time.Duration(c.SimulationSeconds) * time.Second
}

// Warehouse is the coordinator: it owns the dispatcher, every zone and
// resource pool, the loader and manager goroutines, and the statistics
// aggregator, and exposes start/stop/wait lifecycle control.
type Warehouse struct {
	config Config

	dispatcher         *Dispatcher
	storageZone        *StorageZone
	packingZone        *PackingZone
	shippingZone       *ShippingZone
	receivingTerminals *ResourcePool
	storageTerminals   *ResourcePool
	packingTerminals   *ResourcePool
	shippingTerminals  *ResourcePool

	loaders  []*Loader
	managers []*Manager
	wg       sync.WaitGroup

	running int32

	metrics     *metrics.WarehouseCollector
	stopMetrics chan struct{}

	nextTaskIDCounter  int32
	nextOrderIDCounter int32
	nextTruckIDCounter int32

	statsMu            sync.Mutex
	orderStates        OrderStateCounters
	orderStateByID     map[int]OrderState
	orderCreatedAt     map[int]time.Time
	histogram          []OrderHistogramBucket
	loaderStats        map[int]*LoaderStats
}

// New builds a warehouse with all zones and pools sized per config, but
// does not start any goroutines.
func New(config Config) *Warehouse {
	w := &Warehouse{
		config:             config,
		dispatcher:         NewDispatcher(),
		storageZone:        NewStorageZone(config.StorageShelves, config.StorageLayers, config.StorageSpotsPerLayer),
		packingZone:        NewPackingZone(generateWorkstations(config.PackingStations)),
		shippingZone:       NewShippingZone(),
		receivingTerminals: NewResourcePool(config.ReceivingTerminals, "receiving"),
		storageTerminals:   NewResourcePool(config.StorageTerminals, "storage"),
		packingTerminals:   NewResourcePool(config.PackingTerminals, "packing"),
		shippingTerminals:  NewResourcePool(config.ShippingTerminals, "shipping"),
		orderStateByID:     make(map[int]OrderState),
		orderCreatedAt:     make(map[int]time.Time),
		loaderStats:        make(map[int]*LoaderStats),
	}
	return w
}

// SetMetrics attaches a collector that Start will begin sampling from and
// that every task/order completion will report into. Must be called before
// Start. The CLI only calls it when --metrics-addr is set; while no
// collector is attached, recordTaskCompletion/recordOrderCompletion skip it.
func (w *Warehouse) SetMetrics(m *metrics.WarehouseCollector) {
	w.metrics = m
}

func generateWorkstations(count int) []WorkstationInfo {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	stations := make([]WorkstationInfo, count)
	for i := range stations {
		stations[i] = WorkstationInfo{
			DismantleSlots: 1 + r.Intn(3),
			PackingSlots:   2 + r.Intn(3),
		}
	}
	return stations
}

// Start spawns the configured loaders then managers. Idempotent: calling
// Start on an already-running warehouse is a no-op, and a stopped
// warehouse cannot be restarted.
func (w *Warehouse) Start() {
	if !atomic.CompareAndSwapInt32(&w.running, 0, 1) {
		return
	}

	w.loaders = make([]*Loader, w.config.LoaderCount)
	for i := range w.loaders {
		l := newLoader(i, w)
		w.loaders[i] = l
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			l.run()
		}()
	}

	w.managers = make([]*Manager, w.config.ManagerCount)
	for i := range w.managers {
		m := newManager(i, w)
		w.managers[i] = m
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			m.run()
		}()
	}

	if w.metrics != nil {
		w.stopMetrics = make(chan struct{})
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.sampleMetrics(w.stopMetrics)
		}()
	}

	log.Info("warehouse started", "loaders", w.config.LoaderCount, "managers", w.config.ManagerCount)
}

// sampleMetrics periodically publishes dispatcher queue depth and active
// task count until stop is closed. Only started when a collector is set.
func (w *Warehouse) sampleMetrics(stop <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.metrics.SetQueueDepth(w.dispatcher.Size())
			w.metrics.SetActiveTasks(w.dispatcher.ActiveTaskCount())
		}
	}
}

// Running reports whether the warehouse has been started and not yet
// stopped.
func (w *Warehouse) Running() bool {
	return atomic.LoadInt32(&w.running) == 1
}

// Stop signals the dispatcher and every worker goroutine to exit. Safe to
// call more than once and safe to call before Start.
func (w *Warehouse) Stop() {
	atomic.StoreInt32(&w.running, 2) // stopped: Start's swap from 0 can no longer succeed
	w.dispatcher.Shutdown()
	for _, l := range w.loaders {
		l.stop()
	}
	for _, m := range w.managers {
		m.stop()
	}
	if w.stopMetrics != nil {
		select {
		case <-w.stopMetrics:
		default:
			close(w.stopMetrics)
		}
	}
	log.Info("warehouse stop signalled")
}

// Wait blocks until every loader and manager goroutine has exited.
func (w *Warehouse) Wait() {
	w.wg.Wait()
}

func (w *Warehouse) nextTaskID() int  { return int(atomic.AddInt32(&w.nextTaskIDCounter, 1)) }
func (w *Warehouse) nextOrderID() int { return int(atomic.AddInt32(&w.nextOrderIDCounter, 1)) }
func (w *Warehouse) nextTruckID() int { return int(atomic.AddInt32(&w.nextTruckIDCounter, 1)) }

func (w *Warehouse) submitTask(t *Task) {
	w.dispatcher.Enqueue(t)
}

// operationDelay is the simulated time a physical action takes: 1-5ms in
// fast mode, 1-5s otherwise.
func (w *Warehouse) operationDelay() time.Duration {
	if w.config.FastMode {
		return time.Duration(1+rand.Intn(5)) * time.Millisecond
	}
	return time.Duration(1000+rand.Intn(4001)) * time.Millisecond
}

func (w *Warehouse) timeoutDuration() time.Duration {
	if w.config.FastMode {
		return 5 * time.Millisecond
	}
	return 5 * time.Second
}

func (w *Warehouse) recordLoaderRest(loaderID int, d time.Duration) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	s := w.statsFor(loaderID)
	s.RestTime += d
}

func (w *Warehouse) recordTaskCompletion(loaderID int, kind TaskKind) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	s := w.statsFor(loaderID)
	s.TasksCompleted[kind.String()]++
	if w.metrics != nil {
		w.metrics.RecordTaskCompletion(kind.String())
	}
}

func (w *Warehouse) statsFor(loaderID int) *LoaderStats {
	s, ok := w.loaderStats[loaderID]
	if !ok {
		s = &LoaderStats{LoaderID: loaderID, TasksCompleted: make(map[string]int)}
		w.loaderStats[loaderID] = s
	}
	return s
}

func (w *Warehouse) registerOrder(order *Order) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.orderStates.Waiting++
	w.orderStateByID[order.ID] = OrderWaiting
	w.orderCreatedAt[order.ID] = order.CreatedAt
}

// updateOrderState performs the paired decrement-on-prior/increment-on-next
// transition under the statistics lock, in one atomic step, so the sum of
// counters always equals the number of registered orders still tracked.
func (w *Warehouse) updateOrderState(orderID int, state OrderState) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()

	if prev, ok := w.orderStateByID[orderID]; ok {
		w.decrementState(prev)
	}
	w.orderStateByID[orderID] = state
	w.incrementState(state)
}

func (w *Warehouse) decrementState(state OrderState) {
	switch state {
	case OrderWaiting:
		if w.orderStates.Waiting > 0 {
			w.orderStates.Waiting--
		}
	case OrderQueued:
		if w.orderStates.PickingQueued > 0 {
			w.orderStates.PickingQueued--
		}
	case OrderActive:
		if w.orderStates.ActivelyPicking > 0 {
			w.orderStates.ActivelyPicking--
		}
	case OrderPartial:
		if w.orderStates.PartiallyShipped > 0 {
			w.orderStates.PartiallyShipped--
		}
	case OrderComplete:
		if w.orderStates.Completed > 0 {
			w.orderStates.Completed--
		}
	}
}

func (w *Warehouse) incrementState(state OrderState) {
	switch state {
	case OrderWaiting:
		w.orderStates.Waiting++
	case OrderQueued:
		w.orderStates.PickingQueued++
	case OrderActive:
		w.orderStates.ActivelyPicking++
	case OrderPartial:
		w.orderStates.PartiallyShipped++
	case OrderComplete:
		w.orderStates.Completed++
	}
}

func (w *Warehouse) markOrderShipped(orderID int) {
	w.updateOrderState(orderID, OrderComplete)
}

func (w *Warehouse) recordOrderCompletion(orderID int, d time.Duration) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()

	const bucketSize = time.Second
	index := int(d / bucketSize)
	for len(w.histogram) <= index {
		i := len(w.histogram)
		w.histogram = append(w.histogram, OrderHistogramBucket{
			BucketStart: bucketSize * time.Duration(i),
			BucketEnd:   bucketSize * time.Duration(i+1),
		})
	}
	w.histogram[index].Count++
	delete(w.orderCreatedAt, orderID)
	if w.metrics != nil {
		w.metrics.ObserveOrderCompletion(d.Seconds())
	}
}
