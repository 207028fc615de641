package models

import "time"

// Position координаты узла на холсте (диаграмма рисуется внешним компонентом,
// ядро синхронизации хранит координаты как обычные поля данных).
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Task представляет задачу в иерархическом графе задач.
// ParentID указывает на родительскую задачу (пустая строка = корень).
// DeletedAt - tombstone: мягкое удаление, которое всегда побеждает
// при слиянии с несинхронизированными локальными правками.
type Task struct {
	CreatedAt   time.Time  `json:"created_at"`  // CreatedAt время создания записи
	UpdatedAt   time.Time  `json:"updated_at"`  // UpdatedAt время последнего изменения
	DeletedAt   *time.Time `json:"deleted_at"`  // DeletedAt tombstone мягкого удаления (nil = запись жива)
	ID          string     `json:"id"`          // ID уникальный идентификатор задачи (UUID)
	ProjectID   string     `json:"project_id"`  // ProjectID идентификатор проекта-владельца
	Title       string     `json:"title"`       // Title заголовок задачи
	Description string     `json:"description"` // Description описание задачи
	Status      string     `json:"status"`      // Status статус: "todo", "in_progress", "done"
	ParentID    string     `json:"parent_id"`   // ParentID идентификатор родительской задачи
	Position    Position   `json:"position"`    // Position координаты на холсте
}

// Статусы задач
const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
)

// Connection представляет типизированную связь между двумя задачами графа.
type Connection struct {
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at"` // DeletedAt tombstone мягкого удаления
	ID        string     `json:"id"`         // ID уникальный идентификатор связи (UUID)
	ProjectID string     `json:"project_id"` // ProjectID идентификатор проекта-владельца
	SourceID  string     `json:"source_id"`  // SourceID задача-источник
	TargetID  string     `json:"target_id"`  // TargetID задача-приёмник
	Kind      string     `json:"kind"`       // Kind тип связи: "dependency", "reference"
}

// Типы связей
const (
	ConnectionDependency = "dependency"
	ConnectionReference  = "reference"
)

// Project представляет проект: граф задач со связями и версией
// для optimistic concurrency control. Version увеличивается ровно на 1 при
// каждой успешной записи и никогда не уменьшается.
type Project struct {
	UpdatedAt   time.Time    `json:"updated_at"`
	ID          string       `json:"id"`      // ID уникальный идентификатор проекта (UUID)
	Name        string       `json:"name"`    // Name название проекта
	Tasks       []Task       `json:"tasks"`   // Tasks задачи проекта
	Connections []Connection `json:"connections"`
	Version     int64        `json:"version"` // Version монотонно растущая версия (OCC token)
}

// IsDeleted возвращает true, если задача помечена tombstone.
func (t *Task) IsDeleted() bool {
	return t.DeletedAt != nil
}

// Clone создает глубокую копию задачи.
func (t *Task) Clone() *Task {
	c := *t
	if t.DeletedAt != nil {
		deletedAt := *t.DeletedAt
		c.DeletedAt = &deletedAt
	}
	return &c
}

// IsDeleted возвращает true, если связь помечена tombstone.
func (c *Connection) IsDeleted() bool {
	return c.DeletedAt != nil
}

// Clone создает глубокую копию связи.
func (c *Connection) Clone() *Connection {
	cc := *c
	if c.DeletedAt != nil {
		deletedAt := *c.DeletedAt
		cc.DeletedAt = &deletedAt
	}
	return &cc
}

// Clone создает глубокую копию проекта.
// Используется везде, где снимок проекта уходит в очередь сохранения или
// в карантин конфликтов: дальнейшие правки UI не должны менять снимок.
func (p *Project) Clone() *Project {
	c := *p
	c.Tasks = make([]Task, len(p.Tasks))
	for i := range p.Tasks {
		c.Tasks[i] = *p.Tasks[i].Clone()
	}
	c.Connections = make([]Connection, len(p.Connections))
	for i := range p.Connections {
		c.Connections[i] = *p.Connections[i].Clone()
	}
	return &c
}

// FindTask возвращает задачу по ID или nil.
func (p *Project) FindTask(id string) *Task {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}

// FindConnection возвращает связь по ID или nil.
func (p *Project) FindConnection(id string) *Connection {
	for i := range p.Connections {
		if p.Connections[i].ID == id {
			return &p.Connections[i]
		}
	}
	return nil
}
