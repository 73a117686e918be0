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
	"testing"

	"github.com/alwitt/rtmcast/common"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestMemoryServiceHierarchy(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt := context.Background()
	uut, err := GetInMemoryService("testing")
	assert.Nil(err)

	account := uuid.NewString()

	// Case 0: root level activity
	root, err := uut.Create(utCtxt, CreateRequest{
		ElementType: ElementTypeActivity, Config: "{}", AccountID: account,
	})
	assert.Nil(err)
	assert.NotEmpty(root.ID)
	assert.Empty(root.ParentID)

	// Case 1: build a tree
	pathway, err := uut.Create(utCtxt, CreateRequest{
		ElementType: ElementTypePathway, ParentID: root.ID, ParentType: ElementTypeActivity,
	})
	assert.Nil(err)
	interactive, err := uut.Create(utCtxt, CreateRequest{
		ElementType: ElementTypeInteractive, ParentID: pathway.ID, ParentType: ElementTypePathway,
	})
	assert.Nil(err)
	feedback, err := uut.Create(utCtxt, CreateRequest{
		ElementType: ElementTypeFeedback, ParentID: interactive.ID,
	})
	assert.Nil(err)
	assert.Equal(ElementTypeInteractive, feedback.ParentType)
	{
		rootID, err := uut.RootElementID(utCtxt, feedback.ID, ElementTypeFeedback)
		assert.Nil(err)
		assert.Equal(root.ID, rootID)
		rootID, err = uut.RootElementID(utCtxt, root.ID, ElementTypeActivity)
		assert.Nil(err)
		assert.Equal(root.ID, rootID)
	}

	// Case 2: invalid parent
	{
		_, err := uut.Create(utCtxt, CreateRequest{
			ElementType: ElementTypeFeedback, ParentID: pathway.ID,
		})
		assert.True(common.IsErrorKind(err, common.ErrorKindValidation))
		_, err = uut.Create(utCtxt, CreateRequest{ElementType: ElementTypeInteractive})
		assert.True(common.IsErrorKind(err, common.ErrorKindValidation))
		_, err = uut.Create(utCtxt, CreateRequest{
			ElementType: ElementTypeInteractive, ParentID: uuid.NewString(),
		})
		assert.True(common.IsErrorKind(err, common.ErrorKindNotFound))
	}

	// Case 3: duplicate client supplied ID
	{
		clientID := uuid.NewString()
		first, err := uut.Create(utCtxt, CreateRequest{
			ElementID: clientID, ElementType: ElementTypeInteractive, ParentID: pathway.ID,
			Config: "original",
		})
		assert.Nil(err)
		assert.Equal(clientID, first.ID)
		_, err = uut.Create(utCtxt, CreateRequest{
			ElementID: clientID, ElementType: ElementTypeInteractive, ParentID: pathway.ID,
			Config: "replaced",
		})
		assert.True(common.IsErrorKind(err, common.ErrorKindConflict))
		existing, err := uut.Find(utCtxt, ElementTypeInteractive, clientID)
		assert.Nil(err)
		assert.Equal("original", existing.Config)
		count, err := uut.ChildCount(utCtxt, pathway.ID)
		assert.Nil(err)
		assert.Equal(2, count)
	}

	// Case 4: delete removes the subtree
	{
		deleted, err := uut.Delete(utCtxt, ElementTypeInteractive, interactive.ID)
		assert.Nil(err)
		assert.Equal(pathway.ID, deleted.ParentID)
		_, err = uut.Find(utCtxt, ElementTypeFeedback, feedback.ID)
		assert.True(common.IsErrorKind(err, common.ErrorKindNotFound))
		_, err = uut.Delete(utCtxt, ElementTypeInteractive, interactive.ID)
		assert.True(common.IsErrorKind(err, common.ErrorKindNotFound))
		count, err := uut.ChildCount(utCtxt, pathway.ID)
		assert.Nil(err)
		assert.Equal(1, count)
	}

	// Case 5: wrong type lookup
	{
		_, err := uut.Find(utCtxt, ElementTypePathway, root.ID)
		assert.True(common.IsErrorKind(err, common.ErrorKindNotFound))
	}
}

func TestMemoryServiceMoveDuplicate(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt := context.Background()
	uut, err := GetInMemoryService("testing")
	assert.Nil(err)

	root, err := uut.Create(utCtxt, CreateRequest{ElementType: ElementTypeActivity})
	assert.Nil(err)
	pathway1, err := uut.Create(utCtxt, CreateRequest{
		ElementType: ElementTypePathway, ParentID: root.ID,
	})
	assert.Nil(err)
	pathway2, err := uut.Create(utCtxt, CreateRequest{
		ElementType: ElementTypePathway, ParentID: root.ID,
	})
	assert.Nil(err)
	child, err := uut.Create(utCtxt, CreateRequest{
		ElementType: ElementTypeActivity, ParentID: pathway1.ID, Config: "child",
	})
	assert.Nil(err)
	childPathway, err := uut.Create(utCtxt, CreateRequest{
		ElementType: ElementTypePathway, ParentID: child.ID,
	})
	assert.Nil(err)
	other, err := uut.Create(utCtxt, CreateRequest{
		ElementType: ElementTypeInteractive, ParentID: pathway2.ID,
	})
	assert.Nil(err)

	// Case 0: root level activity can not move
	{
		_, _, err := uut.Move(utCtxt, ElementTypeActivity, root.ID, pathway2.ID, nil)
		assert.True(common.IsErrorKind(err, common.ErrorKindValidation))
	}

	// Case 1: can not move into itself
	{
		_, _, err := uut.Move(utCtxt, ElementTypeActivity, child.ID, childPathway.ID, nil)
		assert.True(common.IsErrorKind(err, common.ErrorKindValidation))
	}

	// Case 2: index out of range
	{
		index := 5
		_, _, err := uut.Move(utCtxt, ElementTypeActivity, child.ID, pathway2.ID, &index)
		assert.True(common.IsErrorKind(err, common.ErrorKindValidation))
		found, err := uut.Find(utCtxt, ElementTypeActivity, child.ID)
		assert.Nil(err)
		assert.Equal(pathway1.ID, found.ParentID)
	}

	// Case 3: move to the front of another pathway
	{
		index := 0
		moved, oldParent, err := uut.Move(utCtxt, ElementTypeActivity, child.ID, pathway2.ID, &index)
		assert.Nil(err)
		assert.Equal(pathway1.ID, oldParent)
		assert.Equal(pathway2.ID, moved.ParentID)
		count, err := uut.ChildCount(utCtxt, pathway2.ID)
		assert.Nil(err)
		assert.Equal(2, count)
		count, err = uut.ChildCount(utCtxt, pathway1.ID)
		assert.Nil(err)
		assert.Equal(0, count)
		impl := uut.(*memoryServiceImpl)
		assert.EqualValues([]string{child.ID, other.ID}, impl.children[pathway2.ID])
	}

	// Case 4: duplicate copies the subtree
	{
		account := uuid.NewString()
		dup, err := uut.Duplicate(utCtxt, ElementTypeActivity, child.ID, pathway1.ID, nil, account)
		assert.Nil(err)
		assert.NotEqual(child.ID, dup.ID)
		assert.Equal(pathway1.ID, dup.ParentID)
		assert.Equal("child", dup.Config)
		assert.Equal(account, dup.CreatorID)
		count, err := uut.ChildCount(utCtxt, dup.ID)
		assert.Nil(err)
		assert.Equal(1, count)
		impl := uut.(*memoryServiceImpl)
		assert.NotEqual(childPathway.ID, impl.children[dup.ID][0])
	}

	// Case 5: duplicate into itself fails
	{
		_, err := uut.Duplicate(utCtxt, ElementTypeActivity, child.ID, childPathway.ID, nil, "")
		assert.True(common.IsErrorKind(err, common.ErrorKindValidation))
	}
}

func TestMemoryServiceConfigAndScenarios(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt := context.Background()
	uut, err := GetInMemoryService("testing")
	assert.Nil(err)

	root, err := uut.Create(utCtxt, CreateRequest{ElementType: ElementTypeActivity})
	assert.Nil(err)

	// Case 0: config and theme
	{
		updated, err := uut.ReplaceConfig(utCtxt, ElementTypeActivity, root.ID, `{"title":"x"}`)
		assert.Nil(err)
		assert.Equal(`{"title":"x"}`, updated.Config)
		updated, err = uut.ReplaceTheme(utCtxt, root.ID, `{"color":"red"}`)
		assert.Nil(err)
		assert.Equal(`{"color":"red"}`, updated.Theme)
		_, err = uut.ReplaceConfig(utCtxt, ElementTypePathway, root.ID, "{}")
		assert.True(common.IsErrorKind(err, common.ErrorKindNotFound))
	}

	// Case 1: scenarios
	scenarios := []string{}
	for itr := 0; itr < 3; itr++ {
		scenario, err := uut.Create(utCtxt, CreateRequest{
			ElementType: ElementTypeScenario,
			ParentID:    root.ID,
			ParentType:  ElementTypeActivity,
			Lifecycle:   LifecycleActivityEvaluate,
		})
		assert.Nil(err)
		scenarios = append(scenarios, scenario.ID)
	}
	{
		_, err := uut.Create(utCtxt, CreateRequest{
			ElementType: ElementTypeScenario,
			ParentID:    root.ID,
			Lifecycle:   LifecycleInteractiveEvaluate,
		})
		assert.True(common.IsErrorKind(err, common.ErrorKindValidation))
	}

	// Case 2: reorder
	{
		order := []string{scenarios[2], scenarios[0], scenarios[1]}
		result, err := uut.ReorderScenarios(
			utCtxt, root.ID, ElementTypeActivity, LifecycleActivityEvaluate, order,
		)
		assert.Nil(err)
		assert.EqualValues(order, result)
		impl := uut.(*memoryServiceImpl)
		assert.EqualValues(order, impl.children[root.ID])
	}

	// Case 3: incomplete or repeated order
	{
		_, err := uut.ReorderScenarios(
			utCtxt, root.ID, ElementTypeActivity, LifecycleActivityEvaluate, scenarios[:2],
		)
		assert.True(common.IsErrorKind(err, common.ErrorKindValidation))
		_, err = uut.ReorderScenarios(
			utCtxt, root.ID, ElementTypeActivity, LifecycleActivityEvaluate,
			[]string{scenarios[0], scenarios[0], scenarios[1]},
		)
		assert.True(common.IsErrorKind(err, common.ErrorKindValidation))
	}

	// Case 4: cancelled context
	{
		ctxt, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := uut.Find(ctxt, ElementTypeActivity, root.ID)
		assert.NotNil(err)
	}
}
