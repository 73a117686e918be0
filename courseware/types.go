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

import (
	"fmt"
	"strings"
	"time"
)

// ElementType type of a courseware element
type ElementType string

// Courseware element types
const (
	ElementTypeActivity    ElementType = "ACTIVITY"
	ElementTypePathway     ElementType = "PATHWAY"
	ElementTypeInteractive ElementType = "INTERACTIVE"
	ElementTypeComponent   ElementType = "COMPONENT"
	ElementTypeFeedback    ElementType = "FEEDBACK"
	ElementTypeScenario    ElementType = "SCENARIO"
)

// AllElementTypes the full set of courseware element types
var AllElementTypes = []ElementType{
	ElementTypeActivity,
	ElementTypePathway,
	ElementTypeInteractive,
	ElementTypeComponent,
	ElementTypeFeedback,
	ElementTypeScenario,
}

// ParseElementType parse a string into an ElementType
func ParseElementType(raw string) (ElementType, error) {
	for _, t := range AllElementTypes {
		if string(t) == strings.ToUpper(raw) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown courseware element type '%s'", raw)
}

// Action type of a committed courseware mutation
type Action string

// Courseware mutation actions
const (
	ActionCreated           Action = "CREATED"
	ActionDeleted           Action = "DELETED"
	ActionMoved             Action = "MOVED"
	ActionDuplicated        Action = "DUPLICATED"
	ActionConfigChange      Action = "CONFIG_CHANGE"
	ActionThemeChange       Action = "THEME_CHANGE"
	ActionScenarioCreated   Action = "SCENARIO_CREATED"
	ActionScenarioReordered Action = "SCENARIO_REORDERED"
)

// AllActions the full set of mutation actions
var AllActions = []Action{
	ActionCreated,
	ActionDeleted,
	ActionMoved,
	ActionDuplicated,
	ActionConfigChange,
	ActionThemeChange,
	ActionScenarioCreated,
	ActionScenarioReordered,
}

// RTMEvent derive the RTM event name of an element type and action pair
func RTMEvent(elementType ElementType, action Action) string {
	return fmt.Sprintf("%s_%s", elementType, action)
}

// ScenarioLifecycle the point in a learner's progress at which a scenario is evaluated
type ScenarioLifecycle string

// Scenario lifecycles
const (
	LifecycleActivityStart       ScenarioLifecycle = "ACTIVITY_START"
	LifecycleActivityEvaluate    ScenarioLifecycle = "ACTIVITY_EVALUATE"
	LifecycleActivityComplete    ScenarioLifecycle = "ACTIVITY_COMPLETE"
	LifecycleInteractiveStart    ScenarioLifecycle = "INTERACTIVE_START"
	LifecycleInteractiveEvaluate ScenarioLifecycle = "INTERACTIVE_EVALUATE"
	LifecycleInteractiveComplete ScenarioLifecycle = "INTERACTIVE_COMPLETE"
)

// ParseScenarioLifecycle parse a string into a ScenarioLifecycle
func ParseScenarioLifecycle(raw string) (ScenarioLifecycle, error) {
	switch lc := ScenarioLifecycle(strings.ToUpper(raw)); lc {
	case LifecycleActivityStart,
		LifecycleActivityEvaluate,
		LifecycleActivityComplete,
		LifecycleInteractiveStart,
		LifecycleInteractiveEvaluate,
		LifecycleInteractiveComplete:
		return lc, nil
	}
	return "", fmt.Errorf("unknown scenario lifecycle '%s'", raw)
}

// AppliesTo whether the lifecycle can be used by scenarios attached to the parent type
func (l ScenarioLifecycle) AppliesTo(parentType ElementType) bool {
	return strings.HasPrefix(string(l), string(parentType)+"_")
}

// Element one courseware element
type Element struct {
	// ID element ID
	ID string `json:"id"`
	// Type element type
	Type ElementType `json:"elementType"`
	// ParentID ID of the parent element, empty for a root level activity
	ParentID string `json:"parentId,omitempty"`
	// ParentType type of the parent element
	ParentType ElementType `json:"parentType,omitempty"`
	// Config element config, opaque JSON string
	Config string `json:"config,omitempty"`
	// Theme activity theme, opaque JSON string
	Theme string `json:"theme,omitempty"`
	// Name scenario name
	Name string `json:"name,omitempty"`
	// Lifecycle scenario lifecycle
	Lifecycle ScenarioLifecycle `json:"lifecycle,omitempty"`
	// CreatorID account which created the element
	CreatorID string `json:"creatorId,omitempty"`
	// CreatedAt when the element was created
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt when the element was last changed
	UpdatedAt time.Time `json:"updatedAt"`
}

// allowedParents defines which element types can parent which
var allowedParents = map[ElementType][]ElementType{
	ElementTypeActivity:    {ElementTypePathway},
	ElementTypePathway:     {ElementTypeActivity},
	ElementTypeInteractive: {ElementTypePathway},
	ElementTypeComponent:   {ElementTypeActivity, ElementTypeInteractive},
	ElementTypeFeedback:    {ElementTypeInteractive},
	ElementTypeScenario:    {ElementTypeActivity, ElementTypeInteractive},
}

// CanParent whether an element of type parent can hold an element of type child
func CanParent(parent, child ElementType) bool {
	for _, t := range allowedParents[child] {
		if t == parent {
			return true
		}
	}
	return false
}
