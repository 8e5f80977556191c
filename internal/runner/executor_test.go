package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/probatio/internal/common"
	"github.com/ternarybob/probatio/internal/models"
)

func testExecutor() *StepExecutor {
	return NewStepExecutor(common.BrowserConfig{
		StepTimeout:       "1s",
		NavigationTimeout: "1s",
	}, common.GetLogger())
}

func testBlueprint() []models.BlueprintElement {
	return []models.BlueprintElement{
		{LogicalName: "Username_Field", DataTest: "username"},
		{LogicalName: "Login_Button", ID: "login-button"},
	}
}

func TestEnterTextMissingDataKeyClearsField(t *testing.T) {
	session := &fakeSession{}
	step := models.Step{
		StepNumber:    1,
		Action:        models.StepActionEnterText,
		TargetElement: "Username_Field",
		DataKey:       "absent_key",
	}

	_, err := testExecutor().Execute(context.Background(), session, step, testBlueprint(), map[string]string{}, nil)
	require.NoError(t, err)
	assert.Contains(t, session.actions, `set:[data-test="username"]=`)
}

func TestClickWithoutVerificationsSkipsSettling(t *testing.T) {
	session := &fakeSession{}
	step := models.Step{
		StepNumber:    1,
		Action:        models.StepActionClick,
		TargetElement: "Login_Button",
	}

	_, err := testExecutor().Execute(context.Background(), session, step, testBlueprint(), nil, nil)
	require.NoError(t, err)
	assert.NotContains(t, session.actions, "ready")
}

func TestClickWithVerificationsWaitsForEachElement(t *testing.T) {
	session := &fakeSession{}
	step := models.Step{
		StepNumber:    1,
		Action:        models.StepActionClick,
		TargetElement: "Login_Button",
		Verifications: []string{"Inventory_List", "Shopping_Cart"},
	}

	_, err := testExecutor().Execute(context.Background(), session, step, testBlueprint(), nil, nil)
	require.NoError(t, err)
	assert.Contains(t, session.actions, "ready")
	assert.Contains(t, session.actions, "wait:.inventory_list")
	assert.Contains(t, session.actions, "wait:.shopping_cart_link")
}

func TestStepFailureClassification(t *testing.T) {
	tests := []struct {
		name       string
		session    *fakeSession
		step       models.Step
		expectKind FailureKind
	}{
		{
			name:       "unknown target is a locator failure",
			session:    &fakeSession{},
			step:       models.Step{StepNumber: 1, Action: models.StepActionClick, TargetElement: "Ghost"},
			expectKind: FailureLocatorNotFound,
		},
		{
			name:       "hidden element is a visibility failure",
			session:    &fakeSession{notVisible: map[string]bool{`[id="login-button"]`: true}},
			step:       models.Step{StepNumber: 1, Action: models.StepActionVerifyVisible, TargetElement: "Login_Button"},
			expectKind: FailureElementNotVisible,
		},
		{
			name:       "missing verification element is a verification failure",
			session:    &fakeSession{notVisible: map[string]bool{".inventory_list": true}},
			step:       models.Step{StepNumber: 2, Action: models.StepActionClick, TargetElement: "Login_Button", Verifications: []string{"Inventory_List"}},
			expectKind: FailureVerification,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testExecutor().Execute(context.Background(), tt.session, tt.step, testBlueprint(), nil, nil)
			require.Error(t, err)

			failure, ok := err.(*StepFailure)
			require.True(t, ok)
			assert.Equal(t, tt.expectKind, failure.Kind)
			assert.Equal(t, tt.step.StepNumber, failure.StepNumber)
			assert.NotEmpty(t, failure.Reason)
		})
	}
}
