// Package models provides data model definitions for the StudyDeck offline
// layer.
package models

// Collection names for the durable store. Every cached domain entity lives in
// exactly one of these.
const (
	CollectionTasks     = "tasks"
	CollectionRoutines  = "routines"
	CollectionUserData  = "userdata"
	CollectionCourses   = "courses"
	CollectionMaterials = "materials"
	CollectionTeachers  = "teachers"
)

// Collections lists every non-pending collection, in eviction-scan order.
var Collections = []string{
	CollectionTasks,
	CollectionRoutines,
	CollectionUserData,
	CollectionCourses,
	CollectionMaterials,
	CollectionTeachers,
}

// Pending-operation queue names. Each entity type that supports offline
// mutation has its own append-only log.
const (
	QueueTasks     = "pending_tasks"
	QueueRoutines  = "pending_routines"
	QueueCourses   = "pending_courses"
	QueueMaterials = "pending_materials"
)

// Queues lists every pending-operation queue.
var Queues = []string{QueueTasks, QueueRoutines, QueueCourses, QueueMaterials}

// Task represents a student task.
type Task struct {
	ID          string `db:"id" json:"id"`
	UserID      string `db:"user_id" json:"user_id"`
	Title       string `db:"title" json:"title"`
	Description string `db:"description" json:"description,omitempty"`
	Subject     string `db:"subject" json:"subject,omitempty"`
	DueDate     string `db:"due_date" json:"due_date,omitempty"`
	Priority    string `db:"priority" json:"priority,omitempty"`
	Completed   bool   `db:"completed" json:"completed"`
	CachedAt    string `db:"cached_at" json:"cached_at,omitempty"`
}

// Routine represents a recurring study-routine entry.
type Routine struct {
	ID        string `db:"id" json:"id"`
	UserID    string `db:"user_id" json:"user_id"`
	Title     string `db:"title" json:"title"`
	DayOfWeek int    `db:"day_of_week" json:"day_of_week"`
	StartTime string `db:"start_time" json:"start_time,omitempty"`
	EndTime   string `db:"end_time" json:"end_time,omitempty"`
	CachedAt  string `db:"cached_at" json:"cached_at,omitempty"`
}

// Course represents an enrolled course.
type Course struct {
	ID        string `db:"id" json:"id"`
	UserID    string `db:"user_id" json:"user_id"`
	Name      string `db:"name" json:"name"`
	TeacherID string `db:"teacher_id" json:"teacher_id,omitempty"`
	Color     string `db:"color" json:"color,omitempty"`
	CachedAt  string `db:"cached_at" json:"cached_at,omitempty"`
}

// Material represents course material (links, files, notes).
type Material struct {
	ID       string `db:"id" json:"id"`
	UserID   string `db:"user_id" json:"user_id"`
	CourseID string `db:"course_id" json:"course_id,omitempty"`
	Title    string `db:"title" json:"title"`
	URL      string `db:"url" json:"url,omitempty"`
	Kind     string `db:"kind" json:"kind,omitempty"`
	CachedAt string `db:"cached_at" json:"cached_at,omitempty"`
}

// Teacher represents a course teacher.
type Teacher struct {
	ID       string `db:"id" json:"id"`
	UserID   string `db:"user_id" json:"user_id"`
	Name     string `db:"name" json:"name"`
	Email    string `db:"email" json:"email,omitempty"`
	CachedAt string `db:"cached_at" json:"cached_at,omitempty"`
}

// UserData represents per-user profile and settings.
type UserData struct {
	ID          string `db:"id" json:"id"`
	UserID      string `db:"user_id" json:"user_id"`
	DisplayName string `db:"display_name" json:"display_name,omitempty"`
	Settings    string `db:"settings" json:"settings,omitempty"`
	CachedAt    string `db:"cached_at" json:"cached_at,omitempty"`
}
