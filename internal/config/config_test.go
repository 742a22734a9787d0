package config

import (
	"testing"

	"github.com/stacksupervisor/stacksupervisor/internal/model"
	"github.com/stretchr/testify/require"
)

const validStack = `
name: demo
description: a small stack
services:
  db:
    target:
      kind: docker
      image: postgres:16
      ports: [5432]
  api:
    target:
      kind: process
      binary: /usr/local/bin/api
      env:
        LOG_LEVEL: info
    dependencies:
      - service:db
      - task:migrate
    health_check:
      command: /bin/check-api
      interval: 5s
      retries: 3
      timeout: 2s
tasks:
  migrate:
    task_type: sql-migration
    dependencies:
      - db
`

func TestParse_ValidStackRoundTrips(t *testing.T) {
	r := require.New(t)
	stack, err := Parse([]byte(validStack))
	r.NoError(err)
	r.Equal("demo", stack.Name)
	r.Len(stack.Services, 2)
	r.Len(stack.Tasks, 1)

	api := stack.Services["api"]
	r.Equal(model.TargetProcess, api.Target.Kind)
	r.Len(api.Dependencies, 2)
	r.Equal(model.ServiceDep("db"), api.Dependencies[0])
	r.Equal(model.TaskDep("migrate"), api.Dependencies[1])
	r.NotNil(api.HealthCheck)
	r.Equal(3, api.HealthCheck.Retries)

	db := stack.Services["db"]
	r.Equal(model.TargetDocker, db.Target.Kind)
	r.Equal([]uint16{5432}, db.Target.Ports)

	migrate := stack.Tasks["migrate"]
	r.Equal("sql-migration", migrate.TaskType)
	r.Equal(model.ServiceDep("db"), migrate.Dependencies[0])
}

func TestParse_UndefinedServiceDependencyRejected(t *testing.T) {
	_, err := Parse([]byte(`
name: demo
services:
  api:
    target: {kind: process, binary: /bin/true}
    dependencies: [service:ghost]
`))
	require.Error(t, err)
}

func TestParse_InvalidEnvNameRejected(t *testing.T) {
	_, err := Parse([]byte(`
name: demo
services:
  api:
    target:
      kind: process
      binary: /bin/true
      env:
        lower_case: oops
`))
	require.Error(t, err)
}

func TestParse_ServiceAndTaskNameClashRejected(t *testing.T) {
	_, err := Parse([]byte(`
name: demo
services:
  worker:
    target: {kind: process, binary: /bin/true}
tasks:
  worker:
    task_type: noop
`))
	require.Error(t, err)
}

func TestParse_UnknownServiceRefInEnvRejected(t *testing.T) {
	_, err := Parse([]byte(`
name: demo
services:
  api:
    target:
      kind: process
      binary: /bin/true
      env:
        DB_HOST: ${unknownsvc.ip}
`))
	require.Error(t, err)
}

func TestParse_KnownServiceRefInEnvAccepted(t *testing.T) {
	r := require.New(t)
	_, err := Parse([]byte(`
name: demo
services:
  db:
    target: {kind: process, binary: /bin/true}
  api:
    target:
      kind: process
      binary: /bin/true
      env:
        DB_HOST: ${db.ip}
    dependencies: [service:db]
`))
	r.NoError(err)
}

func TestParse_BadHealthCheckDurationRejected(t *testing.T) {
	_, err := Parse([]byte(`
name: demo
services:
  api:
    target: {kind: process, binary: /bin/true}
    health_check:
      command: /bin/true
      interval: not-a-duration
      timeout: 2s
`))
	require.Error(t, err)
}
