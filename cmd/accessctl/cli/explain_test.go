package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/access"
	"github.com/odyssey-erp/odyssey-access/jobs"
)

type stubRepo struct {
	err error
}

func (s stubRepo) GetUserRoles(ctx context.Context, userID int64) ([]int64, error) {
	if userID == 1 {
		return []int64{10}, s.err
	}
	return nil, s.err
}

func (s stubRepo) GetRole(ctx context.Context, roleID int64) (access.Role, error) {
	return access.Role{ID: roleID, Name: "Instructor", IsActive: true}, s.err
}

func (s stubRepo) IsRoleActive(ctx context.Context, roleID int64) (bool, error) {
	return true, s.err
}

func (s stubRepo) GetRolePermissions(ctx context.Context, roleID int64) ([]access.Permission, error) {
	return []access.Permission{
		{Resource: "Course", Action: "Create", Module: "LMS"},
		{Resource: "Course", Action: "Update", Module: "LMS"},
	}, s.err
}

func (s stubRepo) GetRoleMenus(ctx context.Context, roleID int64) ([]int64, error) {
	return []int64{1, 2}, s.err
}

func (s stubRepo) GetAllMenus(ctx context.Context) ([]access.Menu, error) {
	parent := int64(1)
	return []access.Menu{
		{ID: 1, Name: "Courses", Module: "LMS"},
		{ID: 2, Name: "New course", Module: "LMS", ParentID: &parent},
	}, s.err
}

func (s stubRepo) GetUsersWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	return []int64{1}, s.err
}

func TestExplainCommandJSON(t *testing.T) {
	helper, err := NewExplainCLI(stubRepo{})
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	code := helper.ExplainCommand(context.Background(), ExplainOptions{
		UserID:     1,
		Resource:   "Course",
		Action:     "Create",
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     new(bytes.Buffer),
	})
	require.Equal(t, 0, code)

	var report ExplainReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	assert.Equal(t, []string{"Course:Create", "Course:Update"}, report.Permissions)
	assert.Equal(t, []string{"Courses", "Courses / New course"}, report.Menus)
	assert.Equal(t, map[string][]string{"Instructor": {"Course:Create", "Course:Update"}}, report.Roles)
	require.NotNil(t, report.Check)
	assert.True(t, report.Check.Allowed)
}

func TestExplainCommandDeniedExitCode(t *testing.T) {
	helper, err := NewExplainCLI(stubRepo{})
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	code := helper.ExplainCommand(context.Background(), ExplainOptions{
		UserID:   1,
		Resource: "Course",
		Action:   "Delete",
		Stdout:   stdout,
		Stderr:   new(bytes.Buffer),
	})
	assert.Equal(t, 2, code)
	assert.Contains(t, stdout.String(), "check Course:Delete: DENY")
	assert.Contains(t, stdout.String(), "  Instructor: Course:Create, Course:Update")
}

func TestExplainCommandErrors(t *testing.T) {
	helper, err := NewExplainCLI(stubRepo{err: errors.New("db down")})
	require.NoError(t, err)

	stderr := new(bytes.Buffer)
	code := helper.ExplainCommand(context.Background(), ExplainOptions{UserID: 1, Stdout: new(bytes.Buffer), Stderr: stderr})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "db down")

	helper, err = NewExplainCLI(stubRepo{})
	require.NoError(t, err)
	_, err = helper.Explain(context.Background(), ExplainOptions{UserID: 0})
	assert.Error(t, err)
	_, err = helper.Explain(context.Background(), ExplainOptions{UserID: 1, Resource: "Course"})
	assert.Error(t, err)

	_, err = NewExplainCLI(nil)
	assert.Error(t, err)
}

func TestInvalidateTargetBuildTask(t *testing.T) {
	task, err := InvalidateTarget{RoleID: 10}.BuildTask()
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskAccessInvalidateRole, task.Type())

	task, err = InvalidateTarget{All: true}.BuildTask()
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskAccessInvalidateAll, task.Type())

	_, err = InvalidateTarget{}.BuildTask()
	assert.Error(t, err)
	_, err = InvalidateTarget{UserID: 1, All: true}.BuildTask()
	assert.Error(t, err)
	_, err = InvalidateTarget{UserID: -4}.BuildTask()
	assert.Error(t, err)
}
