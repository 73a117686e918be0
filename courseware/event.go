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

package courseware

// ChangeEvent describes one committed courseware mutation
//
// Build with NewChangeEvent; a built event is treated as immutable and is shared by
// the broadcast and change log pipelines.
type ChangeEvent struct {
	// ElementID the mutated element
	ElementID string `json:"elementId"`
	// ElementType type of the mutated element
	ElementType ElementType `json:"elementType"`
	// Action the mutation performed
	Action Action `json:"action"`
	// RTMEvent derived from ElementType and Action
	RTMEvent string `json:"rtmEvent"`
	// ParentElementID parent of the element after the mutation
	ParentElementID string `json:"parentElementId,omitempty"`
	// ParentElementType type of the parent element
	ParentElementType ElementType `json:"parentElementType,omitempty"`
	// OldParentElementID parent of the element before a move
	OldParentElementID string `json:"oldParentPathwayId,omitempty"`
	// RootElementID the top level activity containing the element
	RootElementID string `json:"rootElementId,omitempty"`
	// OldRootElementID the top level activity which contained the element before a move
	// into a different root. Empty when the root did not change.
	OldRootElementID string `json:"oldRootElementId,omitempty"`
	// AccountID the account which performed the mutation
	AccountID string `json:"accountId,omitempty"`
	// Config the replaced config
	Config string `json:"config,omitempty"`
	// Theme the replaced theme
	Theme string `json:"theme,omitempty"`
	// ScenarioIDs the scenario order after a reorder
	ScenarioIDs []string `json:"scenarioIds,omitempty"`
	// Lifecycle the scenario lifecycle affected
	Lifecycle ScenarioLifecycle `json:"lifecycle,omitempty"`
}

// EventOption sets an optional ChangeEvent field
type EventOption func(*ChangeEvent)

// WithParent set the parent of the element
func WithParent(parentID string, parentType ElementType) EventOption {
	return func(e *ChangeEvent) {
		e.ParentElementID = parentID
		e.ParentElementType = parentType
	}
}

// WithOldParent set the parent the element was moved out of
func WithOldParent(oldParentID string) EventOption {
	return func(e *ChangeEvent) {
		e.OldParentElementID = oldParentID
	}
}

// WithOldRoot set the root the element was moved out of. Ignored when it matches the
// current root.
func WithOldRoot(oldRootID string) EventOption {
	return func(e *ChangeEvent) {
		if oldRootID != e.RootElementID {
			e.OldRootElementID = oldRootID
		}
	}
}

// WithConfig set the config carried by the event
func WithConfig(config string) EventOption {
	return func(e *ChangeEvent) {
		e.Config = config
	}
}

// WithTheme set the theme carried by the event
func WithTheme(theme string) EventOption {
	return func(e *ChangeEvent) {
		e.Theme = theme
	}
}

// WithScenarios set the scenario lifecycle and scenario order carried by the event
func WithScenarios(lifecycle ScenarioLifecycle, scenarioIDs []string) EventOption {
	return func(e *ChangeEvent) {
		e.Lifecycle = lifecycle
		if scenarioIDs != nil {
			e.ScenarioIDs = append([]string{}, scenarioIDs...)
		}
	}
}

// NewChangeEvent build a new ChangeEvent
func NewChangeEvent(
	rootElementID, accountID, elementID string,
	elementType ElementType,
	action Action,
	opts ...EventOption,
) ChangeEvent {
	event := ChangeEvent{
		ElementID:     elementID,
		ElementType:   elementType,
		Action:        action,
		RTMEvent:      RTMEvent(elementType, action),
		RootElementID: rootElementID,
		AccountID:     accountID,
	}
	for _, opt := range opts {
		opt(&event)
	}
	return event
}

// AffectedActivities the activities whose change streams observe this event
//
// These are the root activity, the root the element was moved out of, the element
// itself when it is an activity, and the parent when the parent is an activity. No ID is
// repeated.
func (e ChangeEvent) AffectedActivities() []string {
	result := []string{}
	seen := map[string]bool{}
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		result = append(result, id)
	}
	add(e.RootElementID)
	add(e.OldRootElementID)
	if e.ElementType == ElementTypeActivity {
		add(e.ElementID)
	}
	if e.ParentElementType == ElementTypeActivity {
		add(e.ParentElementID)
	}
	return result
}

// ChangeLogRoots the root activities whose change logs record this event
func (e ChangeEvent) ChangeLogRoots() []string {
	result := []string{}
	if e.RootElementID != "" {
		result = append(result, e.RootElementID)
	}
	if e.OldRootElementID != "" && e.OldRootElementID != e.RootElementID {
		result = append(result, e.OldRootElementID)
	}
	return result
}
