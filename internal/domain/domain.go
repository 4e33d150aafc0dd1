package domain

// Task statuses.
const (
	TaskToDo    = "to_do"
	TaskDoing   = "doing"
	TaskBlocked = "blocked"
	TaskDone    = "done"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Unlock request states.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
)

// Capabilities checked by the engine.
const (
	// CapabilityLockManage lets an actor lock, unlock and edit locked tasks.
	CapabilityLockManage = "task.lock.manage"
	// CapabilityRBACManage lets an actor grant roles and issue API keys.
	CapabilityRBACManage = "rbac.manage"
)

type Project struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	ClientName         string  `json:"client_name,omitempty"`
	Description        string  `json:"description,omitempty"`
	Status             string  `json:"status" enum:"planned,checklist_finalized,verification_passed,execution_in_progress,execution_complete,draft_prepared,client_review,account_closure,completed"`
	VerificationStatus string  `json:"verification_status" enum:"pending,under_verification,passed,failed"`
	ExecutionStatus    string  `json:"execution_status" enum:"not_started,in_progress,complete"`
	ClientReviewStatus string  `json:"client_review_status" enum:"not_started,in_review,changes_requested,revised_shared,client_approved"`
	PaymentStatus      string  `json:"payment_status" enum:"pending,partial,paid"`
	StatusChangedAt    *string `json:"status_changed_at,omitempty" format:"date-time"`
	StatusChangedBy    *string `json:"status_changed_by,omitempty"`
	CreatedBy          string  `json:"created_by"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
}

type ChecklistItem struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"project_id"`
	Title      string  `json:"title"`
	IsVerified bool    `json:"is_verified"`
	VerifiedBy *string `json:"verified_by,omitempty"`
	VerifiedAt *string `json:"verified_at,omitempty" format:"date-time"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

// Task is a work item. SLAStatus is derived on read and never stored.
type Task struct {
	ID          string  `json:"id"`
	ProjectID   *string `json:"project_id,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"to_do,doing,blocked,done"`
	Priority    string  `json:"priority" enum:"low,medium,high"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	CreatedBy   string  `json:"created_by"`
	DueDate     *string `json:"due_date,omitempty" format:"date"`
	IsLocked    bool    `json:"is_locked"`
	LockedAt    *string `json:"locked_at,omitempty" format:"date-time"`
	SLAStatus   string  `json:"sla_status" enum:"on_track,due_today,overdue"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

type UnlockRequest struct {
	ID          string  `json:"id"`
	TaskID      string  `json:"task_id"`
	RequestedBy string  `json:"requested_by"`
	Reason      string  `json:"reason"`
	Status      string  `json:"status" enum:"pending,approved,rejected"`
	ReviewedBy  *string `json:"reviewed_by,omitempty"`
	ReviewedAt  *string `json:"reviewed_at,omitempty" format:"date-time"`
	ReviewNote  *string `json:"review_note,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
