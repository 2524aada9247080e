package segmentation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/amirphl/segment-engine/models"
	"github.com/amirphl/segment-engine/repository"
)

// TagMutator adds or removes tag rows; adding an existing pair is a no-op
type TagMutator interface {
	MutateTags(ctx context.Context, cashboxID int64, entity models.TagEntity, ids []int64, names []string, add bool) (int64, error)
}

// RepositoryTagMutator adapts a TagRepository to TagMutator
type RepositoryTagMutator struct {
	Tags repository.TagRepository
}

func (m RepositoryTagMutator) MutateTags(ctx context.Context, cashboxID int64, entity models.TagEntity, ids []int64, names []string, add bool) (int64, error) {
	if add {
		return m.Tags.AddTags(ctx, entity, cashboxID, ids, names)
	}
	return m.Tags.RemoveTags(ctx, entity, cashboxID, ids, names)
}

type tagParams struct {
	Tags []string `json:"tags"`
}

func decodeTagParams(raw json.RawMessage) ([]string, error) {
	var p tagParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	names := normalizeNames(p.Tags)
	if len(names) == 0 {
		return nil, fmt.Errorf("tags must not be empty")
	}
	return names, nil
}

// TagAction attaches or detaches tags on either documents or contragents
type TagAction struct {
	actionType string
	entity     Entity
	add        bool
	mutator    TagMutator
}

func NewTagActions(mutator TagMutator) []ActionHandler {
	return []ActionHandler{
		&TagAction{actionType: "add_docs_sales_tags", entity: EntityDocuments, add: true, mutator: mutator},
		&TagAction{actionType: "remove_docs_sales_tags", entity: EntityDocuments, add: false, mutator: mutator},
		&TagAction{actionType: "add_contragent_tags", entity: EntityContragents, add: true, mutator: mutator},
		&TagAction{actionType: "remove_contragent_tags", entity: EntityContragents, add: false, mutator: mutator},
	}
}

func (a *TagAction) Type() string       { return a.actionType }
func (a *TagAction) Entities() []Entity { return []Entity{a.entity} }

func (a *TagAction) Validate(params json.RawMessage) error {
	_, err := decodeTagParams(params)
	return err
}

func (a *TagAction) Execute(ctx context.Context, req ActionRequest) error {
	names, err := decodeTagParams(req.Params)
	if err != nil {
		return err
	}
	_, err = a.mutator.MutateTags(ctx, req.Segment.CashboxID, models.TagEntity(req.Entity), req.IDs, names, a.add)
	return err
}
