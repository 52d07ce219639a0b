package transport

import (
	"time"

	"github.com/google/uuid"
)

// ── Requests ──────────────────────────────────────────────────────────────────

// ActorRequest names a worker or a workshop.
type ActorRequest struct {
	Kind string    `json:"kind" validate:"required,actorkind"`
	ID   uuid.UUID `json:"id" validate:"required"`
}

// OrderLineRequest declares the quantity of one reference in one size.
type OrderLineRequest struct {
	ReferenceID uuid.UUID `json:"referenceId" validate:"required"`
	SizeID      uuid.UUID `json:"sizeId" validate:"required"`
	Quantity    int       `json:"quantity" validate:"required,min=1"`
}

// CreateOrderRequest opens a new order in the first stage.
type CreateOrderRequest struct {
	Client   string             `json:"client" validate:"required,min=1,max=200"`
	Lines    []OrderLineRequest `json:"lines" validate:"required,min=1,dive"`
	Assignee *ActorRequest      `json:"assignee" validate:"omitempty"`
}

// ListOrdersRequest filters the order list.
type ListOrdersRequest struct {
	Status   string `form:"status" validate:"omitempty,oneof=active completed delayed cancelled"`
	Stage    string `form:"stage" validate:"omitempty,max=64"`
	Search   string `form:"search" validate:"omitempty,max=100"`
	Page     int    `form:"page" validate:"omitempty,min=1"`
	PageSize int    `form:"pageSize" validate:"omitempty,min=1,max=100"`
}

// VersionedRequest carries the order version the caller last read.
type VersionedRequest struct {
	ExpectedVersion int64 `json:"expectedVersion" validate:"required,min=1"`
}

// AdvanceRequest moves an order to its next stage. TargetStage is required
// at branch stages.
type AdvanceRequest struct {
	ExpectedVersion int64         `json:"expectedVersion" validate:"required,min=1"`
	TargetStage     string        `json:"targetStage" validate:"omitempty,max=64"`
	Assignee        *ActorRequest `json:"assignee" validate:"omitempty"`
	Notes           string        `json:"notes" validate:"max=1000"`
}

// AllocationRequest assigns part of a line to an actor.
type AllocationRequest struct {
	ReferenceID uuid.UUID    `json:"referenceId" validate:"required"`
	SizeID      uuid.UUID    `json:"sizeId" validate:"required"`
	Actor       ActorRequest `json:"actor" validate:"required"`
	Quantity    int          `json:"quantity" validate:"required,min=1"`
}

// SplitRequest distributes the declared quantities of the current stage.
type SplitRequest struct {
	ExpectedVersion int64               `json:"expectedVersion" validate:"required,min=1"`
	Stage           string              `json:"stage" validate:"required,max=64"`
	Allocations     []AllocationRequest `json:"allocations" validate:"required,min=1,dive"`
}

// CompleteUnitsRequest closes units of the current stage.
type CompleteUnitsRequest struct {
	ExpectedVersion int64       `json:"expectedVersion" validate:"required,min=1"`
	WorkUnitIDs     []uuid.UUID `json:"workUnitIds" validate:"required,min=1,dive,required"`
	CarryOver       bool        `json:"carryOver"`
}

// ReceptionItemRequest declares what arrived for one unit.
type ReceptionItemRequest struct {
	WorkUnitID       uuid.UUID `json:"workUnitId" validate:"required"`
	ReceivedQuantity int       `json:"receivedQuantity" validate:"min=0"`
}

// ReceptionRequest records deliveries. The receiver defaults to the caller.
type ReceptionRequest struct {
	ExpectedVersion int64                  `json:"expectedVersion" validate:"required,min=1"`
	ReceiverID      *uuid.UUID             `json:"receiverId"`
	Items           []ReceptionItemRequest `json:"items" validate:"required,min=1,dive"`
}

// GroupSelection identifies a review group.
type GroupSelection struct {
	ReferenceID uuid.UUID    `json:"referenceId" validate:"required"`
	SizeID      uuid.UUID    `json:"sizeId" validate:"required"`
	Actor       ActorRequest `json:"actor" validate:"required"`
}

// DraftRequest is the caller's current split of one unit.
type DraftRequest struct {
	WorkUnitID uuid.UUID `json:"workUnitId" validate:"required"`
	Approved   int       `json:"approved" validate:"min=0"`
	Repair     int       `json:"repair" validate:"min=0"`
	Discard    int       `json:"discard" validate:"min=0"`
}

// EditRequest changes one bucket, either for a single unit or, without
// WorkUnitID, for the whole group.
type EditRequest struct {
	Bucket     string     `json:"bucket" validate:"required,oneof=approved repair discard"`
	Quantity   int        `json:"quantity" validate:"min=0"`
	WorkUnitID *uuid.UUID `json:"workUnitId"`
}

// ReviewPreviewRequest applies an edit to drafts without persisting.
type ReviewPreviewRequest struct {
	Group  GroupSelection `json:"group" validate:"required"`
	Drafts []DraftRequest `json:"drafts" validate:"omitempty,dive"`
	Edit   *EditRequest   `json:"edit" validate:"omitempty"`
}

// ReviewConfirmRequest commits one group.
type ReviewConfirmRequest struct {
	ExpectedVersion int64          `json:"expectedVersion" validate:"required,min=1"`
	Group           GroupSelection `json:"group" validate:"required"`
	Drafts          []DraftRequest `json:"drafts" validate:"omitempty,dive"`
}

// GroupDraftsRequest carries drafts for one (reference, size) of an actor.
type GroupDraftsRequest struct {
	ReferenceID uuid.UUID      `json:"referenceId" validate:"required"`
	SizeID      uuid.UUID      `json:"sizeId" validate:"required"`
	Drafts      []DraftRequest `json:"drafts" validate:"omitempty,dive"`
}

// ReviewConfirmActorRequest commits every pending group of one actor.
type ReviewConfirmActorRequest struct {
	ExpectedVersion int64                `json:"expectedVersion" validate:"required,min=1"`
	Actor           ActorRequest         `json:"actor" validate:"required"`
	Groups          []GroupDraftsRequest `json:"groups" validate:"omitempty,dive"`
}

// ── Responses ─────────────────────────────────────────────────────────────────

type ActorResponse struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
}

type StageResponse struct {
	ID         uuid.UUID `json:"id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	OrderIndex int       `json:"orderIndex"`
	Kind       string    `json:"kind"`
	Branches   []string  `json:"branches"`
	Inherit    bool      `json:"inherit"`
	SLASeconds int64     `json:"slaSeconds"`
}

type StageRef struct {
	ID   uuid.UUID `json:"id"`
	Code string    `json:"code"`
	Name string    `json:"name"`
}

type OrderLineResponse struct {
	ReferenceID uuid.UUID `json:"referenceId"`
	SizeID      uuid.UUID `json:"sizeId"`
	Quantity    int       `json:"quantity"`
}

type OrderResponse struct {
	ID             uuid.UUID           `json:"id"`
	SequenceNumber int64               `json:"sequenceNumber"`
	Client         string              `json:"client"`
	Status         string              `json:"status"`
	CurrentStage   StageRef            `json:"currentStage"`
	TotalUnits     int                 `json:"totalUnits"`
	Version        int64               `json:"version"`
	CreatedAt      time.Time           `json:"createdAt"`
	LastModifiedAt time.Time           `json:"lastModifiedAt"`
	Lines          []OrderLineResponse `json:"lines,omitempty"`
}

type OrderListResponse struct {
	Items      []OrderResponse `json:"items"`
	Total      int             `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"pageSize"`
	TotalPages int             `json:"totalPages"`
}

type WorkUnitResponse struct {
	ID           uuid.UUID  `json:"id"`
	ReferenceID  uuid.UUID  `json:"referenceId"`
	SizeID       uuid.UUID  `json:"sizeId"`
	Quantity     int        `json:"quantity"`
	Stage        StageRef   `json:"stage"`
	WorkerID     *uuid.UUID `json:"workerId,omitempty"`
	WorkshopID   *uuid.UUID `json:"workshopId,omitempty"`
	Status       string     `json:"status"`
	ReworkOrigin bool       `json:"reworkOrigin"`
	ParentID     *uuid.UUID `json:"parentId,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

type ShortageResponse struct {
	ID              uuid.UUID `json:"id"`
	WorkUnitID      uuid.UUID `json:"workUnitId"`
	MissingQuantity int       `json:"missingQuantity"`
	RecordedAt      time.Time `json:"recordedAt"`
}

type ReviewOutcomeResponse struct {
	WorkUnitID uuid.UUID `json:"workUnitId"`
	Approved   int       `json:"approved"`
	Repair     int       `json:"repair"`
	Discard    int       `json:"discard"`
	ReviewedBy uuid.UUID `json:"reviewedBy"`
	ReviewedAt time.Time `json:"reviewedAt"`
}

type OrderDetailResponse struct {
	Order     OrderResponse           `json:"order"`
	Units     []WorkUnitResponse      `json:"units"`
	Shortages []ShortageResponse      `json:"shortages"`
	Outcomes  []ReviewOutcomeResponse `json:"outcomes"`
}

type AdvanceResponse struct {
	Order        OrderResponse `json:"order"`
	FromStage    string        `json:"fromStage"`
	ToStage      string        `json:"toStage,omitempty"`
	Noop         bool          `json:"noop"`
	Completed    bool          `json:"completed"`
	CarriedUnits int           `json:"carriedUnits"`
}

type UnitsResponse struct {
	Order     OrderResponse      `json:"order"`
	Units     []WorkUnitResponse `json:"units"`
	Shortages []ShortageResponse `json:"shortages,omitempty"`
}

type DraftResponse struct {
	WorkUnitID   uuid.UUID `json:"workUnitId"`
	Assigned     int       `json:"assigned"`
	ReworkOrigin bool      `json:"reworkOrigin"`
	Approved     int       `json:"approved"`
	Repair       int       `json:"repair"`
	Discard      int       `json:"discard"`
	Valid        bool      `json:"valid"`
	Reviewed     bool      `json:"reviewed"`
}

type GroupTotalsResponse struct {
	Assigned int `json:"assigned"`
	Approved int `json:"approved"`
	Repair   int `json:"repair"`
	Discard  int `json:"discard"`
}

type ReviewGroupResponse struct {
	ReferenceID uuid.UUID           `json:"referenceId"`
	SizeID      uuid.UUID           `json:"sizeId"`
	Actor       ActorResponse       `json:"actor"`
	Pending     bool                `json:"pending"`
	Valid       bool                `json:"valid"`
	Totals      GroupTotalsResponse `json:"totals"`
	Drafts      []DraftResponse     `json:"drafts"`
}

type ReviewConfirmResponse struct {
	Order       OrderResponse           `json:"order"`
	Outcomes    []ReviewOutcomeResponse `json:"outcomes"`
	RepairUnits []WorkUnitResponse      `json:"repairUnits"`
}

type RepairResolvedResponse struct {
	Order        OrderResponse    `json:"order"`
	RepairUnit   WorkUnitResponse `json:"repairUnit"`
	ReturnedUnit WorkUnitResponse `json:"returnedUnit"`
}

type ActorStateResponse struct {
	Actor                 ActorResponse `json:"actor"`
	OriginalUnits         int           `json:"originalUnits"`
	ReviewedUnits         int           `json:"reviewedUnits"`
	PendingRepairUnits    int           `json:"pendingRepairUnits"`
	PendingRepairQuantity int           `json:"pendingRepairQuantity"`
	State                 string        `json:"state"`
}

type ActorTimelineResponse struct {
	Actor           ActorResponse `json:"actor"`
	StartedAt       time.Time     `json:"startedAt"`
	CompletedAt     *time.Time    `json:"completedAt,omitempty"`
	Closed          bool          `json:"closed"`
	DurationSeconds int64         `json:"durationSeconds"`
	Quantity        int           `json:"quantity"`
	Units           int           `json:"units"`
	ReworkQuantity  int           `json:"reworkQuantity"`
}

type ProducerShortageResponse struct {
	Actor   ActorResponse `json:"actor"`
	Missing int           `json:"missing"`
}

type StageTimelineResponse struct {
	Stage             StageRef                   `json:"stage"`
	Kind              string                     `json:"kind"`
	Active            bool                       `json:"active"`
	Completed         bool                       `json:"completed"`
	Skipped           bool                       `json:"skipped"`
	StartedAt         *time.Time                 `json:"startedAt,omitempty"`
	EndedAt           *time.Time                 `json:"endedAt,omitempty"`
	DurationSeconds   int64                      `json:"durationSeconds"`
	Quantity          int                        `json:"quantity"`
	ReworkQuantity    int                        `json:"reworkQuantity"`
	Shortage          int                        `json:"shortage"`
	ProducerShortages []ProducerShortageResponse `json:"producerShortages,omitempty"`
	Actors            []ActorTimelineResponse    `json:"actors"`
}

type TimelineResponse struct {
	OrderID     uuid.UUID               `json:"orderId"`
	Version     int64                   `json:"version"`
	GeneratedAt time.Time               `json:"generatedAt"`
	Stages      []StageTimelineResponse `json:"stages"`
}
