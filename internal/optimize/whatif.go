package optimize

import (
	"encoding/json"
	"fmt"
	"strings"

	"railway-monitor/internal/rail"
)

type ChangeKind string

const (
	ChangeAddTrain        ChangeKind = "AddTrain"
	ChangeRemoveTrain     ChangeKind = "RemoveTrain"
	ChangeDelayTrain      ChangeKind = "DelayTrain"
	ChangeRoute           ChangeKind = "ChangeRoute"
	ChangeBlockSection    ChangeKind = "BlockSection"
	ChangeSectionCapacity ChangeKind = "ChangeCapacity"
)

// WhatIfChange is one of the closed set of scenario modifications below.
type WhatIfChange interface {
	Kind() ChangeKind
	Validate() error
}

type AddTrain struct {
	Train rail.Train `json:"train"`
}

type RemoveTrain struct {
	TrainID string `json:"train_id"`
}

type DelayTrain struct {
	TrainID      string `json:"train_id"`
	DelayMinutes int32  `json:"delay_minutes"`
}

type ChangeTrainRoute struct {
	TrainID string   `json:"train_id"`
	Route   []string `json:"route"`
}

type BlockSection struct {
	SectionID       string `json:"section_id"`
	DurationMinutes uint32 `json:"duration_minutes"`
}

type ChangeCapacity struct {
	SectionID string `json:"section_id"`
	Capacity  uint32 `json:"capacity"`
}

func (AddTrain) Kind() ChangeKind         { return ChangeAddTrain }
func (RemoveTrain) Kind() ChangeKind      { return ChangeRemoveTrain }
func (DelayTrain) Kind() ChangeKind       { return ChangeDelayTrain }
func (ChangeTrainRoute) Kind() ChangeKind { return ChangeRoute }
func (BlockSection) Kind() ChangeKind     { return ChangeBlockSection }
func (ChangeCapacity) Kind() ChangeKind   { return ChangeSectionCapacity }

func (c AddTrain) Validate() error {
	if err := c.Train.Validate(); err != nil {
		return fmt.Errorf("AddTrain: %w", err)
	}
	return nil
}

func (c RemoveTrain) Validate() error { return requireID("RemoveTrain", "train_id", c.TrainID) }

func (c DelayTrain) Validate() error {
	if err := requireID("DelayTrain", "train_id", c.TrainID); err != nil {
		return err
	}
	if c.DelayMinutes == 0 {
		return rail.Validationf("DelayTrain: delay_minutes must be non-zero")
	}
	return nil
}

func (c ChangeTrainRoute) Validate() error {
	if err := requireID("ChangeRoute", "train_id", c.TrainID); err != nil {
		return err
	}
	if len(c.Route) == 0 {
		return rail.Validationf("ChangeRoute: route must not be empty")
	}
	return nil
}

func (c BlockSection) Validate() error {
	if err := requireID("BlockSection", "section_id", c.SectionID); err != nil {
		return err
	}
	if c.DurationMinutes == 0 {
		return rail.Validationf("BlockSection: duration_minutes must be at least 1")
	}
	return nil
}

func (c ChangeCapacity) Validate() error {
	return requireID("ChangeCapacity", "section_id", c.SectionID)
}

func requireID(kind, field, v string) error {
	if strings.TrimSpace(v) == "" {
		return rail.Validationf("%s: %s must not be empty", kind, field)
	}
	return nil
}

func (c AddTrain) MarshalJSON() ([]byte, error) {
	type alias AddTrain
	return json.Marshal(struct {
		Type ChangeKind `json:"type"`
		alias
	}{c.Kind(), alias(c)})
}

func (c RemoveTrain) MarshalJSON() ([]byte, error) {
	type alias RemoveTrain
	return json.Marshal(struct {
		Type ChangeKind `json:"type"`
		alias
	}{c.Kind(), alias(c)})
}

func (c DelayTrain) MarshalJSON() ([]byte, error) {
	type alias DelayTrain
	return json.Marshal(struct {
		Type ChangeKind `json:"type"`
		alias
	}{c.Kind(), alias(c)})
}

func (c ChangeTrainRoute) MarshalJSON() ([]byte, error) {
	type alias ChangeTrainRoute
	return json.Marshal(struct {
		Type ChangeKind `json:"type"`
		alias
	}{c.Kind(), alias(c)})
}

func (c BlockSection) MarshalJSON() ([]byte, error) {
	type alias BlockSection
	return json.Marshal(struct {
		Type ChangeKind `json:"type"`
		alias
	}{c.Kind(), alias(c)})
}

func (c ChangeCapacity) MarshalJSON() ([]byte, error) {
	type alias ChangeCapacity
	return json.Marshal(struct {
		Type ChangeKind `json:"type"`
		alias
	}{c.Kind(), alias(c)})
}

type WhatIfChanges []WhatIfChange

func (cs *WhatIfChanges) UnmarshalJSON(b []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(b, &raws); err != nil {
		return rail.Validationf("what_if_changes: %v", err)
	}
	out := make(WhatIfChanges, 0, len(raws))
	for i, raw := range raws {
		c, err := DecodeWhatIfChange(raw)
		if err != nil {
			return fmt.Errorf("what_if_changes[%d]: %w", i, err)
		}
		out = append(out, c)
	}
	*cs = out
	return nil
}

func DecodeWhatIfChange(b []byte) (WhatIfChange, error) {
	var head struct {
		Type ChangeKind `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, rail.Validationf("what-if change: %v", err)
	}
	var (
		c   WhatIfChange
		err error
	)
	switch head.Type {
	case ChangeAddTrain:
		c, err = decodeVariant[AddTrain](b)
	case ChangeRemoveTrain:
		c, err = decodeVariant[RemoveTrain](b)
	case ChangeDelayTrain:
		c, err = decodeVariant[DelayTrain](b)
	case ChangeRoute:
		c, err = decodeVariant[ChangeTrainRoute](b)
	case ChangeBlockSection:
		c, err = decodeVariant[BlockSection](b)
	case ChangeSectionCapacity:
		c, err = decodeVariant[ChangeCapacity](b)
	default:
		return nil, rail.Validationf("unknown what-if change %q", head.Type)
	}
	if err != nil {
		return nil, rail.Validationf("%s: %v", head.Type, err)
	}
	return c, nil
}
