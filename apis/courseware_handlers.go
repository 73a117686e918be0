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

package apis

import (
	"context"
	"fmt"

	"github.com/alwitt/rtmcast/common"
	"github.com/alwitt/rtmcast/courseware"
)

// elementTarget validated courseware mutation request
type elementTarget struct {
	elementType courseware.ElementType
	elementID   string
	// parentID parent of a new element, or destination of a move / duplicate
	parentID   string
	parentType courseware.ElementType
	rootID     string
	// oldRootID root of the element before a move
	oldRootID string
	index     *int
	config    string
}

// scenarioTarget validated scenario request
type scenarioTarget struct {
	parentID    string
	parentType  courseware.ElementType
	lifecycle   courseware.ScenarioLifecycle
	rootID      string
	scenarioID  string
	name        string
	config      string
	scenarioIDs []string
}

// DeleteResponse reply body of a delete message
type DeleteResponse struct {
	ElementID   string                 `json:"elementId"`
	ElementType courseware.ElementType `json:"elementType"`
}

// ScenarioOrderResponse reply body of a scenario reorder message
type ScenarioOrderResponse struct {
	ScenarioIDs []string `json:"scenarioIds"`
}

// messageType build the author message type of an element operation
func messageType(elementType courseware.ElementType, operation string) string {
	return fmt.Sprintf("author.%s.%s", elementKey(elementType), operation)
}

// elementReply wrap an element under its lower case type name
func elementReply(element courseware.Element) map[string]interface{} {
	return map[string]interface{}{elementKey(element.Type): element}
}

// createParents the parents each element type can be created under, with the message
// field naming the parent
var createParents = map[courseware.ElementType][]struct {
	field      string
	parentType courseware.ElementType
}{
	courseware.ElementTypeActivity: {
		{field: "parentPathwayId", parentType: courseware.ElementTypePathway},
	},
	courseware.ElementTypePathway: {
		{field: "parentActivityId", parentType: courseware.ElementTypeActivity},
	},
	courseware.ElementTypeInteractive: {
		{field: "parentPathwayId", parentType: courseware.ElementTypePathway},
	},
	courseware.ElementTypeComponent: {
		{field: "parentActivityId", parentType: courseware.ElementTypeActivity},
		{field: "parentInteractiveId", parentType: courseware.ElementTypeInteractive},
	},
	courseware.ElementTypeFeedback: {
		{field: "parentInteractiveId", parentType: courseware.ElementTypeInteractive},
	},
}

// parentOf fetch a parent reference field of a request
func (r elementRequest) parentOf(field string) string {
	switch field {
	case "parentPathwayId":
		return r.ParentPathwayID
	case "parentActivityId":
		return r.ParentActivityID
	case "parentInteractiveId":
		return r.ParentInteractiveID
	}
	return ""
}

func (h *rtmHandlers) defineCoursewareHandlers(handlers map[string]MessageHandler) {
	editable := []courseware.ElementType{
		courseware.ElementTypeActivity,
		courseware.ElementTypePathway,
		courseware.ElementTypeInteractive,
		courseware.ElementTypeComponent,
		courseware.ElementTypeFeedback,
	}
	for _, elementType := range editable {
		handlers[messageType(elementType, "create")] = h.createHandler(elementType)
		handlers[messageType(elementType, "delete")] = h.deleteHandler(elementType)
		handlers[messageType(elementType, "config.replace")] = h.replaceConfigHandler(elementType)
	}
	for _, elementType := range []courseware.ElementType{
		courseware.ElementTypeActivity, courseware.ElementTypeInteractive,
	} {
		handlers[messageType(elementType, "move")] = h.moveHandler(elementType)
		handlers[messageType(elementType, "duplicate")] = h.duplicateHandler(elementType)
	}
	handlers["author.activity.theme.replace"] = h.replaceThemeHandler()
	handlers["author.scenario.create"] = h.createScenarioHandler()
	handlers["author.scenario.reorder"] = h.reorderScenariosHandler()
}

// findElement decode a request and fetch the element it names
func (h *rtmHandlers) findElement(
	ctxt context.Context, call RTMCall, elementType courseware.ElementType,
) (elementRequest, courseware.Element, error) {
	var req elementRequest
	if err := h.decoder.decode(call.Message, &req); err != nil {
		return req, courseware.Element{}, err
	}
	elementID := req.elementID(elementType)
	if err := requireField(elementID, elementIDField(elementType)); err != nil {
		return req, courseware.Element{}, err
	}
	element, err := h.Courseware.Find(ctxt, elementType, elementID)
	return req, element, err
}

// ========================================================================================
// Create

func (h *rtmHandlers) createHandler(elementType courseware.ElementType) MessageHandler {
	return messageHandler{
		mutating: true,
		failure:  fmt.Sprintf("Unable to create %s", elementKey(elementType)),
		validate: func(ctxt context.Context, call RTMCall) (interface{}, error) {
			var req elementRequest
			if err := h.decoder.decode(call.Message, &req); err != nil {
				return nil, err
			}
			target := elementTarget{
				elementType: elementType,
				elementID:   req.elementID(elementType),
				config:      req.Config,
			}
			options := createParents[elementType]
			for _, option := range options {
				if parentID := req.parentOf(option.field); parentID != "" {
					if target.parentID != "" {
						return nil, common.NewValidationError(
							"only one parent can be given for %s", elementKey(elementType),
						)
					}
					target.parentID = parentID
					target.parentType = option.parentType
				}
			}
			if target.parentID == "" {
				// Activities without a parent are created at the root level
				if elementType != courseware.ElementTypeActivity {
					return nil, missingField(options[0].field)
				}
				return target, nil
			}
			if _, err := h.Courseware.Find(ctxt, target.parentType, target.parentID); err != nil {
				return nil, err
			}
			rootID, err := h.Courseware.RootElementID(ctxt, target.parentID, target.parentType)
			if err != nil {
				return nil, err
			}
			target.rootID = rootID
			return target, nil
		},
		handle: func(ctxt context.Context, call RTMCall, request interface{}) (interface{}, error) {
			target := request.(elementTarget)
			element, err := h.Courseware.Create(ctxt, courseware.CreateRequest{
				ElementID:   target.elementID,
				ElementType: elementType,
				ParentID:    target.parentID,
				ParentType:  target.parentType,
				Config:      target.config,
				AccountID:   call.Session.AccountID(),
			})
			if err != nil {
				return nil, err
			}
			rootID := target.rootID
			if rootID == "" {
				// Root level activity
				rootID = element.ID
			}
			h.emit(ctxt, h.Producers.Created.Build(
				clientOf(call), rootID, element.ID, elementType, element.ParentID, element.ParentType,
			))
			return elementReply(element), nil
		},
	}
}

// ========================================================================================
// Delete

func (h *rtmHandlers) deleteHandler(elementType courseware.ElementType) MessageHandler {
	return messageHandler{
		mutating: true,
		failure:  fmt.Sprintf("Unable to delete %s", elementKey(elementType)),
		validate: func(ctxt context.Context, call RTMCall) (interface{}, error) {
			_, element, err := h.findElement(ctxt, call, elementType)
			if err != nil {
				return nil, err
			}
			// The root can not be resolved once the element is gone
			rootID, err := h.Courseware.RootElementID(ctxt, element.ID, elementType)
			if err != nil {
				return nil, err
			}
			return elementTarget{
				elementType: elementType,
				elementID:   element.ID,
				rootID:      rootID,
			}, nil
		},
		handle: func(ctxt context.Context, call RTMCall, request interface{}) (interface{}, error) {
			target := request.(elementTarget)
			deleted, err := h.Courseware.Delete(ctxt, elementType, target.elementID)
			if err != nil {
				return nil, err
			}
			h.emit(ctxt, h.Producers.Deleted.Build(
				clientOf(call), target.rootID, deleted.ID, elementType, deleted.ParentID, deleted.ParentType,
			))
			return DeleteResponse{ElementID: deleted.ID, ElementType: elementType}, nil
		},
	}
}

// ========================================================================================
// Move

func (h *rtmHandlers) moveHandler(elementType courseware.ElementType) MessageHandler {
	return messageHandler{
		mutating: true,
		failure:  fmt.Sprintf("Unable to move %s", elementKey(elementType)),
		validate: func(ctxt context.Context, call RTMCall) (interface{}, error) {
			req, element, err := h.findElement(ctxt, call, elementType)
			if err != nil {
				return nil, err
			}
			if element.ParentID == "" {
				return nil, common.NewValidationError(
					"%s has no parent pathway, use project.activity.move to move it",
					describe(elementType, element.ID),
				)
			}
			if err := requireField(req.DestinationPathwayID, "destinationPathwayId"); err != nil {
				return nil, err
			}
			if _, err := h.Courseware.Find(
				ctxt, courseware.ElementTypePathway, req.DestinationPathwayID,
			); err != nil {
				return nil, err
			}
			oldRootID, err := h.Courseware.RootElementID(ctxt, element.ID, elementType)
			if err != nil {
				return nil, err
			}
			rootID, err := h.Courseware.RootElementID(
				ctxt, req.DestinationPathwayID, courseware.ElementTypePathway,
			)
			if err != nil {
				return nil, err
			}
			count, err := h.Courseware.ChildCount(ctxt, req.DestinationPathwayID)
			if err != nil {
				return nil, err
			}
			if element.ParentID == req.DestinationPathwayID {
				count--
			}
			if err := checkIndex(req.Index, count); err != nil {
				return nil, err
			}
			return elementTarget{
				elementType: elementType,
				elementID:   element.ID,
				parentID:    req.DestinationPathwayID,
				parentType:  courseware.ElementTypePathway,
				rootID:      rootID,
				oldRootID:   oldRootID,
				index:       req.Index,
			}, nil
		},
		handle: func(ctxt context.Context, call RTMCall, request interface{}) (interface{}, error) {
			target := request.(elementTarget)
			moved, oldParentID, err := h.Courseware.Move(
				ctxt, elementType, target.elementID, target.parentID, target.index,
			)
			if err != nil {
				return nil, err
			}
			h.emit(ctxt, h.Producers.Moved.Build(
				clientOf(call),
				target.rootID,
				target.oldRootID,
				moved.ID,
				elementType,
				oldParentID,
				moved.ParentID,
			))
			return elementReply(moved), nil
		},
	}
}

// ========================================================================================
// Duplicate

func (h *rtmHandlers) duplicateHandler(elementType courseware.ElementType) MessageHandler {
	return messageHandler{
		mutating: true,
		failure:  fmt.Sprintf("Unable to duplicate %s", elementKey(elementType)),
		validate: func(ctxt context.Context, call RTMCall) (interface{}, error) {
			req, element, err := h.findElement(ctxt, call, elementType)
			if err != nil {
				return nil, err
			}
			if err := requireField(req.ParentPathwayID, "parentPathwayId"); err != nil {
				return nil, err
			}
			if _, err := h.Courseware.Find(
				ctxt, courseware.ElementTypePathway, req.ParentPathwayID,
			); err != nil {
				return nil, err
			}
			rootID, err := h.Courseware.RootElementID(
				ctxt, req.ParentPathwayID, courseware.ElementTypePathway,
			)
			if err != nil {
				return nil, err
			}
			count, err := h.Courseware.ChildCount(ctxt, req.ParentPathwayID)
			if err != nil {
				return nil, err
			}
			if err := checkIndex(req.Index, count); err != nil {
				return nil, err
			}
			return elementTarget{
				elementType: elementType,
				elementID:   element.ID,
				parentID:    req.ParentPathwayID,
				parentType:  courseware.ElementTypePathway,
				rootID:      rootID,
				index:       req.Index,
			}, nil
		},
		handle: func(ctxt context.Context, call RTMCall, request interface{}) (interface{}, error) {
			target := request.(elementTarget)
			duplicate, err := h.Courseware.Duplicate(
				ctxt,
				elementType,
				target.elementID,
				target.parentID,
				target.index,
				call.Session.AccountID(),
			)
			if err != nil {
				return nil, err
			}
			h.emit(ctxt, h.Producers.Duplicated.Build(
				clientOf(call), target.rootID, duplicate.ID, elementType, target.parentID,
			))
			return elementReply(duplicate), nil
		},
	}
}

// ========================================================================================
// Config and theme

func (h *rtmHandlers) replaceConfigHandler(elementType courseware.ElementType) MessageHandler {
	return messageHandler{
		mutating: true,
		failure:  fmt.Sprintf("Unable to replace %s config", elementKey(elementType)),
		validate: func(ctxt context.Context, call RTMCall) (interface{}, error) {
			req, element, err := h.findElement(ctxt, call, elementType)
			if err != nil {
				return nil, err
			}
			if err := requireField(req.Config, "config"); err != nil {
				return nil, err
			}
			rootID, err := h.Courseware.RootElementID(ctxt, element.ID, elementType)
			if err != nil {
				return nil, err
			}
			return elementTarget{
				elementType: elementType,
				elementID:   element.ID,
				rootID:      rootID,
				config:      req.Config,
			}, nil
		},
		handle: func(ctxt context.Context, call RTMCall, request interface{}) (interface{}, error) {
			target := request.(elementTarget)
			updated, err := h.Courseware.ReplaceConfig(
				ctxt, elementType, target.elementID, target.config,
			)
			if err != nil {
				return nil, err
			}
			h.emit(ctxt, h.Producers.ConfigChanged.Build(
				clientOf(call),
				target.rootID,
				updated.ID,
				elementType,
				updated.ParentID,
				updated.ParentType,
				updated.Config,
			))
			return elementReply(updated), nil
		},
	}
}

func (h *rtmHandlers) replaceThemeHandler() MessageHandler {
	return messageHandler{
		mutating: true,
		failure:  "Unable to replace activity theme",
		validate: func(ctxt context.Context, call RTMCall) (interface{}, error) {
			req, element, err := h.findElement(ctxt, call, courseware.ElementTypeActivity)
			if err != nil {
				return nil, err
			}
			if err := requireField(req.Config, "config"); err != nil {
				return nil, err
			}
			rootID, err := h.Courseware.RootElementID(
				ctxt, element.ID, courseware.ElementTypeActivity,
			)
			if err != nil {
				return nil, err
			}
			return elementTarget{
				elementType: courseware.ElementTypeActivity,
				elementID:   element.ID,
				rootID:      rootID,
				config:      req.Config,
			}, nil
		},
		handle: func(ctxt context.Context, call RTMCall, request interface{}) (interface{}, error) {
			target := request.(elementTarget)
			updated, err := h.Courseware.ReplaceTheme(ctxt, target.elementID, target.config)
			if err != nil {
				return nil, err
			}
			h.emit(ctxt, h.Producers.ThemeChanged.Build(
				clientOf(call), target.rootID, updated.ID, updated.ParentID, updated.Theme,
			))
			return elementReply(updated), nil
		},
	}
}

// ========================================================================================
// Scenarios

// validateScenario decode a scenario request and check its parent
func (h *rtmHandlers) validateScenario(
	ctxt context.Context, call RTMCall,
) (scenarioTarget, error) {
	var req scenarioRequest
	if err := h.decoder.decode(call.Message, &req); err != nil {
		return scenarioTarget{}, err
	}
	parentType, err := courseware.ParseElementType(req.ParentType)
	if err != nil || !courseware.CanParent(parentType, courseware.ElementTypeScenario) {
		return scenarioTarget{}, common.NewValidationError(
			"scenarios can not be placed under '%s'", req.ParentType,
		)
	}
	lifecycle, err := courseware.ParseScenarioLifecycle(req.Lifecycle)
	if err != nil {
		return scenarioTarget{}, common.NewValidationError("%s", err.Error())
	}
	if !lifecycle.AppliesTo(parentType) {
		return scenarioTarget{}, common.NewValidationError(
			"lifecycle %s does not apply to %s", lifecycle, elementKey(parentType),
		)
	}
	if _, err := h.Courseware.Find(ctxt, parentType, req.ParentID); err != nil {
		return scenarioTarget{}, err
	}
	rootID, err := h.Courseware.RootElementID(ctxt, req.ParentID, parentType)
	if err != nil {
		return scenarioTarget{}, err
	}
	return scenarioTarget{
		parentID:    req.ParentID,
		parentType:  parentType,
		lifecycle:   lifecycle,
		rootID:      rootID,
		scenarioID:  req.ScenarioID,
		name:        req.Name,
		config:      req.Config,
		scenarioIDs: req.ScenarioIDs,
	}, nil
}

func (h *rtmHandlers) createScenarioHandler() MessageHandler {
	return messageHandler{
		mutating: true,
		failure:  "Unable to create scenario",
		validate: func(ctxt context.Context, call RTMCall) (interface{}, error) {
			target, err := h.validateScenario(ctxt, call)
			if err != nil {
				return nil, err
			}
			if err := requireField(target.name, "name"); err != nil {
				return nil, err
			}
			return target, nil
		},
		handle: func(ctxt context.Context, call RTMCall, request interface{}) (interface{}, error) {
			target := request.(scenarioTarget)
			scenario, err := h.Courseware.Create(ctxt, courseware.CreateRequest{
				ElementID:   target.scenarioID,
				ElementType: courseware.ElementTypeScenario,
				ParentID:    target.parentID,
				ParentType:  target.parentType,
				Config:      target.config,
				Name:        target.name,
				Lifecycle:   target.lifecycle,
				AccountID:   call.Session.AccountID(),
			})
			if err != nil {
				return nil, err
			}
			h.emit(ctxt, h.Producers.ScenarioCreated.Build(
				clientOf(call),
				target.rootID,
				scenario.ID,
				target.parentID,
				target.parentType,
				target.lifecycle,
			))
			return elementReply(scenario), nil
		},
	}
}

func (h *rtmHandlers) reorderScenariosHandler() MessageHandler {
	return messageHandler{
		mutating: true,
		failure:  "Unable to reorder scenarios",
		validate: func(ctxt context.Context, call RTMCall) (interface{}, error) {
			target, err := h.validateScenario(ctxt, call)
			if err != nil {
				return nil, err
			}
			if len(target.scenarioIDs) == 0 {
				return nil, missingField("scenarioIds")
			}
			return target, nil
		},
		handle: func(ctxt context.Context, call RTMCall, request interface{}) (interface{}, error) {
			target := request.(scenarioTarget)
			ordered, err := h.Courseware.ReorderScenarios(
				ctxt, target.parentID, target.parentType, target.lifecycle, target.scenarioIDs,
			)
			if err != nil {
				return nil, err
			}
			h.emit(ctxt, h.Producers.ScenarioReordered.Build(
				clientOf(call),
				target.rootID,
				target.parentID,
				target.parentType,
				target.lifecycle,
				ordered,
			))
			return ScenarioOrderResponse{ScenarioIDs: ordered}, nil
		},
	}
}
