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

import "context"

// CreateRequest parameters for creating a courseware element
type CreateRequest struct {
	// ElementID client supplied element ID; one is generated if empty
	ElementID string
	// ElementType type of the new element
	ElementType ElementType
	// ParentID ID of the parent; empty for a root level activity
	ParentID string
	// ParentType type of the parent
	ParentType ElementType
	// Config initial element config
	Config string
	// Name scenario name
	Name string
	// Lifecycle scenario lifecycle
	Lifecycle ScenarioLifecycle
	// AccountID account creating the element
	AccountID string
}

// Service the courseware domain service operated on by the RTM message handlers
//
// Failures are reported with the typed errors of the common package: a missing element
// is a NotFound error, a client supplied ID which is already in use is a Conflict error,
// and an invalid argument is a Validation error.
type Service interface {
	// Create create a new element
	Create(ctxt context.Context, req CreateRequest) (Element, error)
	// Delete delete an element and everything beneath it
	Delete(ctxt context.Context, elementType ElementType, elementID string) (Element, error)
	// Move move an element into another pathway. Returns the moved element and
	// the ID of its previous parent.
	Move(
		ctxt context.Context,
		elementType ElementType,
		elementID, destinationPathwayID string,
		index *int,
	) (Element, string, error)
	// Duplicate copy an element and everything beneath it into a pathway. Returns the copy.
	Duplicate(
		ctxt context.Context,
		elementType ElementType,
		elementID, parentPathwayID string,
		index *int,
		accountID string,
	) (Element, error)
	// ReplaceConfig replace the config of an element
	ReplaceConfig(
		ctxt context.Context, elementType ElementType, elementID, config string,
	) (Element, error)
	// ReplaceTheme replace the theme of an activity
	ReplaceTheme(ctxt context.Context, activityID, theme string) (Element, error)
	// ReorderScenarios change the evaluation order of the scenarios of one lifecycle
	ReorderScenarios(
		ctxt context.Context,
		parentID string,
		parentType ElementType,
		lifecycle ScenarioLifecycle,
		scenarioIDs []string,
	) ([]string, error)
	// Find fetch an element
	Find(ctxt context.Context, elementType ElementType, elementID string) (Element, error)
	// RootElementID resolve the top level activity containing an element
	RootElementID(ctxt context.Context, elementID string, elementType ElementType) (string, error)
	// ChildCount number of ordered children of an element, scenarios excluded
	ChildCount(ctxt context.Context, parentID string) (int, error)
}
