package warehouse

import (
	"math/rand"
	"time"
)

var cities = []string{"Shanghai", "Beijing", "Guangzhou", "Shenzhen", "Chengdu"}

// Manager is a producer goroutine: each cycle it generates unload,
// inventory, and (early in the run) picking tasks, and periodically
// admits a new truck to the shipping zone.
type Manager struct {
	id        int
	warehouse *Warehouse
	rng       *rand.Rand
	stopping  chan struct{}
}

func newManager(id int, w *Warehouse) *Manager {
	return &Manager{
		id:        id,
		warehouse: w,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano() + int64(id) + 1_000_000)),
		stopping:  make(chan struct{}),
	}
}

func (m *Manager) stop() {
	select {
	case <-m.stopping:
	default:
		close(m.stopping)
	}
}

func (m *Manager) run() {
	startTime := time.Now()
	nextShipping := startTime
	halfDuration := m.warehouse.config.SimulationDuration() / 2

	shippingInterval := 5 * time.Second
	if m.warehouse.config.FastMode {
		shippingInterval = time.Second
	}

	for {
		select {
		case <-m.stopping:
			return
		default:
		}
		if !m.warehouse.Running() {
			return
		}

		elapsed := time.Since(startTime)

		m.scheduleTrucks()
		m.scheduleInventory()

		if elapsed < halfDuration && m.warehouse.dispatcher.Size() < 200 {
			m.scheduleOrders()
		}

		now := time.Now()
		if !now.Before(nextShipping) {
			city := cities[m.rng.Intn(len(cities))]
			slots := 10 + m.rng.Intn(91) // [10,100]
			m.warehouse.shippingZone.RegisterArrival(city, slots)
			nextShipping = now.Add(shippingInterval)
		}

		time.Sleep(m.warehouse.operationDelay())
	}
}

// scheduleTrucks enqueues one unload task per configured truck-per-cycle,
// each allowing up to three loaders in parallel.
func (m *Manager) scheduleTrucks() {
	for i := 0; i < m.warehouse.config.TrucksPerManagerCycle; i++ {
		truck := m.randomTruck()
		task := newTask()
		task.ID = m.warehouse.nextTaskID()
		task.Kind = TaskUnloadTruck
		task.MaxParallelLoaders = 3
		task.Unload = &UnloadPayload{
			Truck:  truck,
			Cursor: &UnloadCursor{},
			DockID: m.rng.Intn(m.warehouse.config.ReceivingBerths),
		}
		task.Description = "unload truck"
		m.warehouse.submitTask(task)
	}
}

// scheduleInventory enqueues one audit task over a random set of
// categories.
func (m *Manager) scheduleInventory() {
	req := m.randomInventoryRequest()
	task := newTask()
	task.ID = m.warehouse.nextTaskID()
	task.Kind = TaskInventoryAudit
	task.MaxParallelLoaders = 1
	task.Inventory = &req
	task.Description = "inventory audit"
	m.warehouse.submitTask(task)
}

// scheduleOrders registers a fresh order and enqueues its picking task.
func (m *Manager) scheduleOrders() {
	order := m.randomOrder()
	m.warehouse.registerOrder(order)
	m.warehouse.updateOrderState(order.ID, OrderQueued)

	task := newTask()
	task.ID = m.warehouse.nextTaskID()
	task.Kind = TaskPicking
	task.MaxParallelLoaders = 2 + m.rng.Intn(3) // [2,4]
	remaining := make(map[CategoryKey]int, len(order.Required))
	for k, v := range order.Required {
		remaining[k] = v
	}
	task.Picking = &PickingPayload{
		Order:  order,
		Shared: &PickingShared{Remaining: remaining},
	}
	task.Description = "picking"
	m.warehouse.submitTask(task)
}

func (m *Manager) randomCargoType() CargoType {
	return CargoType(m.rng.Intn(3))
}

func categoryCountFor(t CargoType) int {
	if t == CargoMedium {
		return 2
	}
	return 3
}

func (m *Manager) randomPallet() Pallet {
	cargo := m.randomCargoType()
	capacity := cargo.Capacity()
	categories := categoryCountFor(cargo)

	p := Pallet{Type: cargo, Capacity: capacity, CategoryQuantities: make(map[int]int)}
	items := 2 + m.rng.Intn(capacity-1)
	for items > 0 {
		category := m.rng.Intn(categories)
		maxLoad := capacity/categories + 1
		load := 1 + m.rng.Intn(maxLoad)
		if load > items {
			load = items
		}
		p.CategoryQuantities[category] += load
		items -= load
	}
	return p
}

func (m *Manager) randomTruck() *Truck {
	truck := &Truck{
		ID:   m.warehouse.nextTruckID(),
		City: cities[m.rng.Intn(len(cities))],
	}
	palletCount := 10 + m.rng.Intn(91) // [10,100]
	truck.Pallets = make([]Pallet, 0, palletCount)
	for i := 0; i < palletCount; i++ {
		truck.Pallets = append(truck.Pallets, m.randomPallet())
	}
	truck.TotalSlots = palletCount
	return truck
}

func (m *Manager) randomOrder() *Order {
	order := &Order{
		ID:              m.warehouse.nextOrderID(),
		DestinationCity: cities[m.rng.Intn(len(cities))],
		Required:        make(map[CategoryKey]int),
		CreatedAt:       time.Now(),
	}
	entries := 1 + m.rng.Intn(5)
	for i := 0; i < entries; i++ {
		cargo := m.randomCargoType()
		key := CategoryKey{Type: cargo, Category: m.rng.Intn(categoryCountFor(cargo))}
		order.Required[key] += 1 + m.rng.Intn(30)
	}
	return order
}

func (m *Manager) randomInventoryRequest() InventoryRequest {
	req := InventoryRequest{ID: m.warehouse.nextTaskID()}
	entries := 1 + m.rng.Intn(4)
	for i := 0; i < entries; i++ {
		cargo := m.randomCargoType()
		req.Categories = append(req.Categories, CategoryKey{Type: cargo, Category: m.rng.Intn(categoryCountFor(cargo))})
	}
	return req
}
