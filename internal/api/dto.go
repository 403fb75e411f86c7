package api

import (
	"errors"
	"time"

	"github.com/shaiso/iib/internal/domain"
)

// Build DTOs

// CreateBuildRequest — запрос на сборку index image.
type CreateBuildRequest struct {
	Bundles     []string `json:"bundles"`
	BinaryImage string   `json:"binary_image"`
	FromIndex   string   `json:"from_index,omitempty"`
	AddArches   []string `json:"add_arches,omitempty"`
}

// Validate проверяет запрос до создания Request.
func (r CreateBuildRequest) Validate() error {
	if len(r.Bundles) == 0 || !allNonEmpty(r.Bundles) {
		return errors.New(`"bundles" should be a non-empty array of strings`)
	}
	if r.BinaryImage == "" {
		return errors.New(`"binary_image" must be set`)
	}
	if !allNonEmpty(r.AddArches) {
		return errors.New(`"add_arches" should be an array of non-empty strings`)
	}
	if r.FromIndex == "" && len(r.AddArches) == 0 {
		return errors.New(`One of "from_index" or "add_arches" must be specified`)
	}
	return nil
}

// ToDomain создаёт Request в состоянии queued.
func (r CreateBuildRequest) ToDomain() *domain.Request {
	return &domain.Request{
		State:       domain.RequestStateQueued,
		StateReason: "The request was initiated",
		Bundles:     r.Bundles,
		BinaryImage: r.BinaryImage,
		FromIndex:   r.FromIndex,
		AddArches:   domain.NewArchSet(r.AddArches...).Sorted(),
	}
}

func allNonEmpty(values []string) bool {
	for _, v := range values {
		if v == "" {
			return false
		}
	}
	return true
}

// BuildResponse — ответ с запросом на сборку.
type BuildResponse struct {
	ID                  int64     `json:"id"`
	State               string    `json:"state"`
	StateReason         string    `json:"state_reason"`
	Bundles             []string  `json:"bundles"`
	BinaryImage         string    `json:"binary_image"`
	BinaryImageResolved string    `json:"binary_image_resolved,omitempty"`
	FromIndex           string    `json:"from_index,omitempty"`
	FromIndexResolved   string    `json:"from_index_resolved,omitempty"`
	AddArches           []string  `json:"add_arches,omitempty"`
	Arches              []string  `json:"arches"`
	IndexImage          string    `json:"index_image,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// BuildFromDomain конвертирует domain.Request в BuildResponse.
func BuildFromDomain(r domain.Request) BuildResponse {
	arches := r.ArchesDone
	if arches == nil {
		arches = []string{}
	}
	return BuildResponse{
		ID:                  r.ID,
		State:               string(r.State),
		StateReason:         r.StateReason,
		Bundles:             r.Bundles,
		BinaryImage:         r.BinaryImage,
		BinaryImageResolved: r.BinaryImageResolved,
		FromIndex:           r.FromIndex,
		FromIndexResolved:   r.FromIndexResolved,
		AddArches:           r.AddArches,
		Arches:              arches,
		IndexImage:          r.IndexImage,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}
