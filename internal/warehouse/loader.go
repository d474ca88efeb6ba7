package warehouse

import (
	"math/rand"
	"time"
)

// Loader is a worker goroutine: it repeatedly acquires a task from the
// dispatcher and runs the protocol for that task's kind.
type Loader struct {
	id        int
	warehouse *Warehouse
	rng       *rand.Rand
	stopping  chan struct{}
}

func newLoader(id int, w *Warehouse) *Loader {
	return &Loader{
		id:        id,
		warehouse: w,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
		stopping:  make(chan struct{}),
	}
}

func (l *Loader) stop() {
	select {
	case <-l.stopping:
	default:
		close(l.stopping)
	}
}

// run is the loader's main loop: idle, acquire, dispatch by kind, finish.
// It exits once stopping is closed or the dispatcher returns nil from
// Acquire (shutdown).
func (l *Loader) run() {
	for {
		select {
		case <-l.stopping:
			return
		default:
		}

		idleStart := time.Now()
		task := l.warehouse.dispatcher.Acquire()
		if task == nil {
			return
		}
		l.warehouse.recordLoaderRest(l.id, time.Since(idleStart))

		var success bool
		switch task.Kind {
		case TaskUnloadTruck:
			success = l.handleUnload(task)
		case TaskInventoryAudit:
			success = l.handleInventory(task)
		case TaskPicking:
			success = l.handlePicking(task)
		}

		if success {
			l.warehouse.recordTaskCompletion(l.id, task.Kind)
			task.markComplete()
		}

		l.warehouse.dispatcher.Finish(task)
	}
}

// handleUnload runs the four-step unload protocol (take pallet, scan at
// the receiving terminal, move to storage, register at the storage
// terminal) for as many pallets as remain on the truck.
func (l *Loader) handleUnload(task *Task) bool {
	payload := task.Unload
	if payload == nil {
		return false
	}

	var pallet Pallet
	holding := false // a pallet is off the truck but not yet placed or given up
	for {
		if !holding {
			next, ok := payload.Cursor.Next(payload.Truck)
			if !ok {
				break
			}
			pallet, holding = next, true
			l.sleepOperation() // lift the pallet off the truck
		}

		if !l.warehouse.receivingTerminals.Acquire(l.warehouse.timeoutDuration()) {
			if task.active() == 1 {
				return false
			}
			continue
		}
		l.sleepOperation() // scan at the receiving terminal
		l.warehouse.receivingTerminals.Release()

		lastWorker := task.active() == 1
		if !l.simulateMove() {
			if lastWorker {
				return false
			}
			continue
		}

		holding = false
		if !l.warehouse.storageTerminals.Acquire(l.warehouse.timeoutDuration()) {
			continue
		}
		l.warehouse.storageZone.PlacePallet(pallet)
		l.sleepOperation()
		l.warehouse.storageTerminals.Release()
	}

	return true
}

// handleInventory occupies a storage terminal and walks the requested
// categories, simulating a lookup per category.
func (l *Loader) handleInventory(task *Task) bool {
	req := task.Inventory
	if req == nil {
		return false
	}

	if !l.warehouse.storageTerminals.Acquire(l.warehouse.timeoutDuration()) {
		return false
	}
	defer l.warehouse.storageTerminals.Release()

	for _, category := range req.Categories {
		l.warehouse.storageZone.RecordsForCategory(category)
		l.sleepOperation()
	}
	return true
}

// handlePicking reserves a workstation, debits storage for every required
// category, then tries to load the result onto a departing truck.
func (l *Loader) handlePicking(task *Task) bool {
	payload := task.Picking
	if payload == nil {
		return false
	}

	// setStateUnlessCompleted applies state unless a loader working this
	// order has already recorded its completion. The shared lock is held
	// across the check and the transition, so a completed order is never
	// moved back to active or partial.
	setStateUnlessCompleted := func(state OrderState) {
		payload.Shared.mu.Lock()
		defer payload.Shared.mu.Unlock()
		if !payload.Shared.completionRecorded {
			l.warehouse.updateOrderState(payload.Order.ID, state)
		}
	}

	var workstationID int
	for {
		id, ok := l.warehouse.packingZone.ReserveWorkstation(l.warehouse.timeoutDuration())
		if ok {
			workstationID = id
			break
		}
		if task.active() == 1 {
			return false
		}
	}

	setStateUnlessCompleted(OrderActive)
	info := l.warehouse.packingZone.Info(workstationID)
	l.sleepOperation() // reserve the workstation

	allFulfilled := true
	for {
		category, chunk, ok := payload.Shared.TakeRemaining(info.DismantleSlots)
		if !ok {
			break
		}

		taken := l.warehouse.storageZone.TakeFromStorage(category, chunk)
		if taken == 0 {
			allFulfilled = false
			payload.Shared.Return(category, chunk)
			break
		}
		if taken < chunk {
			payload.Shared.Return(category, chunk-taken)
		}
		l.sleepOperation()
	}

	shipped := false
	if allFulfilled {
		const maxAttempts = 8
		for attempt := 0; attempt < maxAttempts && !shipped; attempt++ {
			shipped = l.warehouse.shippingZone.TryLoad(payload.Order.DestinationCity, 1, l.warehouse.timeoutDuration())
			if !shipped {
				l.sleepOperation()
			}
		}
	}

	l.warehouse.packingZone.ReleaseWorkstation(workstationID)

	if !shipped {
		setStateUnlessCompleted(OrderPartial)
		return false
	}

	if payload.Shared.MarkCompletionOnce() {
		l.warehouse.markOrderShipped(payload.Order.ID)
		l.warehouse.recordOrderCompletion(payload.Order.ID, time.Since(payload.Order.CreatedAt))
	}
	return true
}

// simulateMove models physically carrying a pallet to storage: one
// operation delay plus an 85% success draw. Matches the last-worker
// escalation rule: a failure on the last active worker for this task
// fails the whole move; otherwise the caller retries.
func (l *Loader) simulateMove() bool {
	l.sleepOperation()
	return l.rng.Intn(100) < 85
}

func (l *Loader) sleepOperation() {
	time.Sleep(l.warehouse.operationDelay())
}
