// Copyright 2026 The rtmcast Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package producer

import (
	"context"

	"github.com/alwitt/rtmcast/courseware"
)

// ClientContext the client on whose behalf a mutation was performed
type ClientContext struct {
	// AccountID acting account
	AccountID string
}

// Producible a change event ready to be produced
type Producible interface {
	// Event the change event
	Event() courseware.ChangeEvent
	// Produce queue the event for durable recording. Call once per committed mutation.
	Produce(ctxt context.Context) error
}

type producible struct {
	event    courseware.ChangeEvent
	recorder Recorder
}

func (p producible) Event() courseware.ChangeEvent {
	return p.event
}

func (p producible) Produce(ctxt context.Context) error {
	return p.recorder.Record(ctxt, p.event)
}

// ========================================================================================

// CreatedProducer produces CREATED events
type CreatedProducer struct {
	recorder Recorder
}

// Build build the event of an element created under a parent
func (p CreatedProducer) Build(
	client ClientContext,
	rootElementID, elementID string,
	elementType courseware.ElementType,
	parentID string,
	parentType courseware.ElementType,
) Producible {
	return producible{
		event: courseware.NewChangeEvent(
			rootElementID, client.AccountID, elementID, elementType, courseware.ActionCreated,
			courseware.WithParent(parentID, parentType),
		),
		recorder: p.recorder,
	}
}

// DeletedProducer produces DELETED events
type DeletedProducer struct {
	recorder Recorder
}

// Build build the event of an element deleted from a parent
func (p DeletedProducer) Build(
	client ClientContext,
	rootElementID, elementID string,
	elementType courseware.ElementType,
	parentID string,
	parentType courseware.ElementType,
) Producible {
	return producible{
		event: courseware.NewChangeEvent(
			rootElementID, client.AccountID, elementID, elementType, courseware.ActionDeleted,
			courseware.WithParent(parentID, parentType),
		),
		recorder: p.recorder,
	}
}

// MovedProducer produces MOVED events
type MovedProducer struct {
	recorder Recorder
}

// Build build the event of an element moved between pathways. oldRootElementID is the
// root the element was in before the move.
func (p MovedProducer) Build(
	client ClientContext,
	rootElementID, oldRootElementID, elementID string,
	elementType courseware.ElementType,
	fromPathwayID, toPathwayID string,
) Producible {
	return producible{
		event: courseware.NewChangeEvent(
			rootElementID, client.AccountID, elementID, elementType, courseware.ActionMoved,
			courseware.WithParent(toPathwayID, courseware.ElementTypePathway),
			courseware.WithOldParent(fromPathwayID),
			courseware.WithOldRoot(oldRootElementID),
		),
		recorder: p.recorder,
	}
}

// DuplicatedProducer produces DUPLICATED events
type DuplicatedProducer struct {
	recorder Recorder
}

// Build build the event of a new copy placed in a pathway
func (p DuplicatedProducer) Build(
	client ClientContext,
	rootElementID, newElementID string,
	elementType courseware.ElementType,
	parentPathwayID string,
) Producible {
	return producible{
		event: courseware.NewChangeEvent(
			rootElementID, client.AccountID, newElementID, elementType, courseware.ActionDuplicated,
			courseware.WithParent(parentPathwayID, courseware.ElementTypePathway),
		),
		recorder: p.recorder,
	}
}

// ConfigChangedProducer produces CONFIG_CHANGE events
type ConfigChangedProducer struct {
	recorder Recorder
}

// Build build the event of an element config replacement
func (p ConfigChangedProducer) Build(
	client ClientContext,
	rootElementID, elementID string,
	elementType courseware.ElementType,
	parentID string,
	parentType courseware.ElementType,
	config string,
) Producible {
	return producible{
		event: courseware.NewChangeEvent(
			rootElementID, client.AccountID, elementID, elementType, courseware.ActionConfigChange,
			courseware.WithParent(parentID, parentType),
			courseware.WithConfig(config),
		),
		recorder: p.recorder,
	}
}

// ThemeChangedProducer produces THEME_CHANGE events
type ThemeChangedProducer struct {
	recorder Recorder
}

// Build build the event of an activity theme replacement
func (p ThemeChangedProducer) Build(
	client ClientContext, rootElementID, activityID, parentPathwayID, theme string,
) Producible {
	opts := []courseware.EventOption{courseware.WithTheme(theme)}
	if parentPathwayID != "" {
		opts = append(opts, courseware.WithParent(parentPathwayID, courseware.ElementTypePathway))
	}
	return producible{
		event: courseware.NewChangeEvent(
			rootElementID,
			client.AccountID,
			activityID,
			courseware.ElementTypeActivity,
			courseware.ActionThemeChange,
			opts...,
		),
		recorder: p.recorder,
	}
}

// ScenarioCreatedProducer produces SCENARIO_CREATED events
type ScenarioCreatedProducer struct {
	recorder Recorder
}

// Build build the event of a scenario added to an activity or interactive. The event
// is reported against the parent.
func (p ScenarioCreatedProducer) Build(
	client ClientContext,
	rootElementID, scenarioID, parentID string,
	parentType courseware.ElementType,
	lifecycle courseware.ScenarioLifecycle,
) Producible {
	return producible{
		event: courseware.NewChangeEvent(
			rootElementID, client.AccountID, parentID, parentType, courseware.ActionScenarioCreated,
			courseware.WithScenarios(lifecycle, []string{scenarioID}),
		),
		recorder: p.recorder,
	}
}

// ScenarioReorderedProducer produces SCENARIO_REORDERED events
type ScenarioReorderedProducer struct {
	recorder Recorder
}

// Build build the event of the scenarios of a lifecycle being reordered. The event is
// reported against the parent.
func (p ScenarioReorderedProducer) Build(
	client ClientContext,
	rootElementID, parentID string,
	parentType courseware.ElementType,
	lifecycle courseware.ScenarioLifecycle,
	scenarioIDs []string,
) Producible {
	return producible{
		event: courseware.NewChangeEvent(
			rootElementID, client.AccountID, parentID, parentType, courseware.ActionScenarioReordered,
			courseware.WithScenarios(lifecycle, scenarioIDs),
		),
		recorder: p.recorder,
	}
}

// ========================================================================================

// Producers the full family of change producers sharing one recorder
type Producers struct {
	Created           CreatedProducer
	Deleted           DeletedProducer
	Moved             MovedProducer
	Duplicated        DuplicatedProducer
	ConfigChanged     ConfigChangedProducer
	ThemeChanged      ThemeChangedProducer
	ScenarioCreated   ScenarioCreatedProducer
	ScenarioReordered ScenarioReorderedProducer
}

// GetProducers define the change producers
func GetProducers(recorder Recorder) Producers {
	return Producers{
		Created:           CreatedProducer{recorder: recorder},
		Deleted:           DeletedProducer{recorder: recorder},
		Moved:             MovedProducer{recorder: recorder},
		Duplicated:        DuplicatedProducer{recorder: recorder},
		ConfigChanged:     ConfigChangedProducer{recorder: recorder},
		ThemeChanged:      ThemeChangedProducer{recorder: recorder},
		ScenarioCreated:   ScenarioCreatedProducer{recorder: recorder},
		ScenarioReordered: ScenarioReorderedProducer{recorder: recorder},
	}
}
