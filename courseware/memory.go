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
	"context"
	"strings"
	"sync"
	"time"

	"github.com/alwitt/rtmcast/common"
	"github.com/apex/log"
	"github.com/google/uuid"
)

// memoryServiceImpl implements Service with in process state
type memoryServiceImpl struct {
	common.Component
	lock     sync.RWMutex
	elements map[string]*Element
	// children ordered child IDs of each element, scenarios included
	children map[string][]string
	now      func() time.Time
}

// GetInMemoryService define a new in memory courseware Service
func GetInMemoryService(instance string) (Service, error) {
	logTags := log.Fields{
		"module": "courseware", "component": "memory-service", "instance": instance,
	}
	return &memoryServiceImpl{
		Component: common.Component{LogTags: logTags},
		elements:  make(map[string]*Element),
		children:  make(map[string][]string),
		now:       time.Now,
	}, nil
}

func notFound(elementType ElementType, elementID string) error {
	kind := "element"
	if elementType != "" {
		kind = strings.ToLower(string(elementType))
	}
	return common.NewNotFoundError("%s %s not found", kind, elementID)
}

// find fetch an element. Must hold the lock.
func (s *memoryServiceImpl) find(elementType ElementType, elementID string) (*Element, error) {
	entry, ok := s.elements[elementID]
	if !ok || (elementType != "" && entry.Type != elementType) {
		return nil, notFound(elementType, elementID)
	}
	return entry, nil
}

// orderedChildren count the non scenario children. Must hold the lock.
func (s *memoryServiceImpl) orderedChildren(parentID string) []string {
	result := []string{}
	for _, childID := range s.children[parentID] {
		if s.elements[childID].Type != ElementTypeScenario {
			result = append(result, childID)
		}
	}
	return result
}

// insertChild place a child under a parent at the index among the non scenario
// children, or at the end if index is nil. Must hold the lock.
func (s *memoryServiceImpl) insertChild(parentID, childID string, index *int) error {
	siblings := s.children[parentID]
	if index == nil {
		s.children[parentID] = append(siblings, childID)
		return nil
	}
	ordered := s.orderedChildren(parentID)
	if *index < 0 || *index > len(ordered) {
		return common.NewValidationError(
			"index %d is out of range, must be between 0 and %d", *index, len(ordered),
		)
	}
	position := len(siblings)
	if *index < len(ordered) {
		for itr, id := range siblings {
			if id == ordered[*index] {
				position = itr
				break
			}
		}
	}
	updated := make([]string, 0, len(siblings)+1)
	updated = append(updated, siblings[:position]...)
	updated = append(updated, childID)
	updated = append(updated, siblings[position:]...)
	s.children[parentID] = updated
	return nil
}

// removeChild detach a child from its parent. Must hold the lock.
func (s *memoryServiceImpl) removeChild(parentID, childID string) {
	siblings := s.children[parentID]
	for itr, id := range siblings {
		if id == childID {
			s.children[parentID] = append(siblings[:itr:itr], siblings[itr+1:]...)
			return
		}
	}
}

// isAncestor whether ancestorID is elementID or one of its ancestors. Must hold the lock.
func (s *memoryServiceImpl) isAncestor(ancestorID, elementID string) bool {
	for current := elementID; current != ""; {
		if current == ancestorID {
			return true
		}
		entry, ok := s.elements[current]
		if !ok {
			return false
		}
		current = entry.ParentID
	}
	return false
}

// ========================================================================================

// Create create a new element
func (s *memoryServiceImpl) Create(ctxt context.Context, req CreateRequest) (Element, error) {
	if err := ctxt.Err(); err != nil {
		return Element{}, err
	}
	if _, ok := allowedParents[req.ElementType]; !ok {
		return Element{}, common.NewValidationError("unknown element type '%s'", req.ElementType)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if req.ParentID == "" {
		if req.ElementType != ElementTypeActivity {
			return Element{}, common.NewValidationError(
				"parent is required for %s", strings.ToLower(string(req.ElementType)),
			)
		}
	} else {
		parent, err := s.find(req.ParentType, req.ParentID)
		if err != nil {
			return Element{}, err
		}
		if !CanParent(parent.Type, req.ElementType) {
			return Element{}, common.NewValidationError(
				"%s can not be placed under %s",
				strings.ToLower(string(req.ElementType)),
				strings.ToLower(string(parent.Type)),
			)
		}
		if req.ElementType == ElementTypeScenario && !req.Lifecycle.AppliesTo(parent.Type) {
			return Element{}, common.NewValidationError(
				"lifecycle %s does not apply to %s", req.Lifecycle, strings.ToLower(string(parent.Type)),
			)
		}
		req.ParentType = parent.Type
	}

	elementID := req.ElementID
	if elementID == "" {
		elementID = uuid.NewString()
	} else if _, ok := s.elements[elementID]; ok {
		return Element{}, common.NewConflictError(
			"%s %s already exists", strings.ToLower(string(req.ElementType)), elementID,
		)
	}

	timestamp := s.now()
	entry := &Element{
		ID:         elementID,
		Type:       req.ElementType,
		ParentID:   req.ParentID,
		ParentType: req.ParentType,
		Config:     req.Config,
		Name:       req.Name,
		Lifecycle:  req.Lifecycle,
		CreatorID:  req.AccountID,
		CreatedAt:  timestamp,
		UpdatedAt:  timestamp,
	}
	s.elements[elementID] = entry
	if req.ParentID != "" {
		s.children[req.ParentID] = append(s.children[req.ParentID], elementID)
	}
	log.WithFields(s.LogTags).Debugf("Created %s %s", entry.Type, entry.ID)
	return *entry, nil
}

// Delete delete an element and everything beneath it
func (s *memoryServiceImpl) Delete(
	ctxt context.Context, elementType ElementType, elementID string,
) (Element, error) {
	if err := ctxt.Err(); err != nil {
		return Element{}, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	entry, err := s.find(elementType, elementID)
	if err != nil {
		return Element{}, err
	}
	deleted := *entry
	if entry.ParentID != "" {
		s.removeChild(entry.ParentID, entry.ID)
	}
	var purge func(id string)
	purge = func(id string) {
		for _, childID := range s.children[id] {
			purge(childID)
		}
		delete(s.children, id)
		delete(s.elements, id)
	}
	purge(entry.ID)
	log.WithFields(s.LogTags).Debugf("Deleted %s %s", deleted.Type, deleted.ID)
	return deleted, nil
}

// Move move an element into another pathway
func (s *memoryServiceImpl) Move(
	ctxt context.Context,
	elementType ElementType,
	elementID, destinationPathwayID string,
	index *int,
) (Element, string, error) {
	if err := ctxt.Err(); err != nil {
		return Element{}, "", err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	entry, err := s.find(elementType, elementID)
	if err != nil {
		return Element{}, "", err
	}
	if entry.ParentID == "" {
		return Element{}, "", common.NewValidationError(
			"%s %s is at the root level and has no parent pathway",
			strings.ToLower(string(entry.Type)), entry.ID,
		)
	}
	destination, err := s.find(ElementTypePathway, destinationPathwayID)
	if err != nil {
		return Element{}, "", err
	}
	if !CanParent(destination.Type, entry.Type) {
		return Element{}, "", common.NewValidationError(
			"%s can not be placed under a pathway", strings.ToLower(string(entry.Type)),
		)
	}
	if s.isAncestor(entry.ID, destination.ID) {
		return Element{}, "", common.NewValidationError(
			"%s %s can not be moved into itself", strings.ToLower(string(entry.Type)), entry.ID,
		)
	}

	oldParentID := entry.ParentID
	if index != nil {
		count := len(s.orderedChildren(destination.ID))
		if oldParentID == destination.ID {
			count--
		}
		if *index < 0 || *index > count {
			return Element{}, "", common.NewValidationError(
				"index %d is out of range, must be between 0 and %d", *index, count,
			)
		}
	}
	s.removeChild(oldParentID, entry.ID)
	// Index was already checked
	_ = s.insertChild(destination.ID, entry.ID, index)
	entry.ParentID = destination.ID
	entry.ParentType = destination.Type
	entry.UpdatedAt = s.now()
	log.WithFields(s.LogTags).Debugf(
		"Moved %s %s from %s to %s", entry.Type, entry.ID, oldParentID, destination.ID,
	)
	return *entry, oldParentID, nil
}

// Duplicate copy an element and everything beneath it into a pathway
func (s *memoryServiceImpl) Duplicate(
	ctxt context.Context,
	elementType ElementType,
	elementID, parentPathwayID string,
	index *int,
	accountID string,
) (Element, error) {
	if err := ctxt.Err(); err != nil {
		return Element{}, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	entry, err := s.find(elementType, elementID)
	if err != nil {
		return Element{}, err
	}
	destination, err := s.find(ElementTypePathway, parentPathwayID)
	if err != nil {
		return Element{}, err
	}
	if !CanParent(destination.Type, entry.Type) {
		return Element{}, common.NewValidationError(
			"%s can not be placed under a pathway", strings.ToLower(string(entry.Type)),
		)
	}
	if s.isAncestor(entry.ID, destination.ID) {
		return Element{}, common.NewValidationError(
			"%s %s can not be duplicated into itself", strings.ToLower(string(entry.Type)), entry.ID,
		)
	}
	if index != nil {
		if count := len(s.orderedChildren(destination.ID)); *index < 0 || *index > count {
			return Element{}, common.NewValidationError(
				"index %d is out of range, must be between 0 and %d", *index, count,
			)
		}
	}

	timestamp := s.now()
	var copyTree func(sourceID, newParentID string, newParentType ElementType) string
	copyTree = func(sourceID, newParentID string, newParentType ElementType) string {
		source := s.elements[sourceID]
		clone := *source
		clone.ID = uuid.NewString()
		clone.ParentID = newParentID
		clone.ParentType = newParentType
		clone.CreatorID = accountID
		clone.CreatedAt = timestamp
		clone.UpdatedAt = timestamp
		s.elements[clone.ID] = &clone
		for _, childID := range s.children[sourceID] {
			newChildID := copyTree(childID, clone.ID, clone.Type)
			s.children[clone.ID] = append(s.children[clone.ID], newChildID)
		}
		return clone.ID
	}
	newID := copyTree(entry.ID, destination.ID, destination.Type)
	// Index was already checked
	_ = s.insertChild(destination.ID, newID, index)
	log.WithFields(s.LogTags).Debugf(
		"Duplicated %s %s into %s as %s", entry.Type, entry.ID, destination.ID, newID,
	)
	return *s.elements[newID], nil
}

// ReplaceConfig replace the config of an element
func (s *memoryServiceImpl) ReplaceConfig(
	ctxt context.Context, elementType ElementType, elementID, config string,
) (Element, error) {
	if err := ctxt.Err(); err != nil {
		return Element{}, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	entry, err := s.find(elementType, elementID)
	if err != nil {
		return Element{}, err
	}
	entry.Config = config
	entry.UpdatedAt = s.now()
	return *entry, nil
}

// ReplaceTheme replace the theme of an activity
func (s *memoryServiceImpl) ReplaceTheme(
	ctxt context.Context, activityID, theme string,
) (Element, error) {
	if err := ctxt.Err(); err != nil {
		return Element{}, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	entry, err := s.find(ElementTypeActivity, activityID)
	if err != nil {
		return Element{}, err
	}
	entry.Theme = theme
	entry.UpdatedAt = s.now()
	return *entry, nil
}

// ReorderScenarios change the evaluation order of the scenarios of one lifecycle
func (s *memoryServiceImpl) ReorderScenarios(
	ctxt context.Context,
	parentID string,
	parentType ElementType,
	lifecycle ScenarioLifecycle,
	scenarioIDs []string,
) ([]string, error) {
	if err := ctxt.Err(); err != nil {
		return nil, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	parent, err := s.find(parentType, parentID)
	if err != nil {
		return nil, err
	}

	// Locate the current scenarios of the lifecycle
	positions := []int{}
	current := map[string]bool{}
	siblings := s.children[parent.ID]
	for itr, childID := range siblings {
		child := s.elements[childID]
		if child.Type == ElementTypeScenario && child.Lifecycle == lifecycle {
			positions = append(positions, itr)
			current[childID] = true
		}
	}
	if len(scenarioIDs) != len(positions) {
		return nil, common.NewValidationError(
			"scenarioIds must list all %d scenarios of lifecycle %s", len(positions), lifecycle,
		)
	}
	for _, scenarioID := range scenarioIDs {
		if !current[scenarioID] {
			return nil, common.NewValidationError(
				"scenario %s is not a %s scenario of %s", scenarioID, lifecycle, parent.ID,
			)
		}
		delete(current, scenarioID)
	}

	for itr, position := range positions {
		siblings[position] = scenarioIDs[itr]
	}
	parent.UpdatedAt = s.now()
	return append([]string{}, scenarioIDs...), nil
}

// Find fetch an element
func (s *memoryServiceImpl) Find(
	ctxt context.Context, elementType ElementType, elementID string,
) (Element, error) {
	if err := ctxt.Err(); err != nil {
		return Element{}, err
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	entry, err := s.find(elementType, elementID)
	if err != nil {
		return Element{}, err
	}
	return *entry, nil
}

// RootElementID resolve the top level activity containing an element
func (s *memoryServiceImpl) RootElementID(
	ctxt context.Context, elementID string, elementType ElementType,
) (string, error) {
	if err := ctxt.Err(); err != nil {
		return "", err
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	entry, err := s.find(elementType, elementID)
	if err != nil {
		return "", err
	}
	for entry.ParentID != "" {
		parent, ok := s.elements[entry.ParentID]
		if !ok {
			return "", notFound(entry.ParentType, entry.ParentID)
		}
		entry = parent
	}
	return entry.ID, nil
}

// ChildCount number of ordered children of an element, scenarios excluded
func (s *memoryServiceImpl) ChildCount(ctxt context.Context, parentID string) (int, error) {
	if err := ctxt.Err(); err != nil {
		return 0, err
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	if _, err := s.find("", parentID); err != nil {
		return 0, err
	}
	return len(s.orderedChildren(parentID)), nil
}
