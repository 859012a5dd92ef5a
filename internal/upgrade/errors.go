package upgrade

import (
	"fmt"
	"time"
)

// ContainerExitedError indicates the new container exited instead of staying up
type ContainerExitedError struct {
	ID       string
	ExitCode int
	LogTail  string
}

func (e *ContainerExitedError) Error() string {
	return fmt.Sprintf("container %s exited with code %d", e.ID, e.ExitCode)
}

// ContainerUnhealthyError indicates the new container's healthcheck reported unhealthy
type ContainerUnhealthyError struct {
	ID           string
	HealthStatus string
	LogTail      string
}

func (e *ContainerUnhealthyError) Error() string {
	return fmt.Sprintf("container %s is %s", e.ID, e.HealthStatus)
}

// ReadinessTimeoutError indicates the container never became ready within the max wait
type ReadinessTimeoutError struct {
	ID     string
	State  string
	Waited time.Duration
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("container %s not ready after %v (state: %s)", e.ID, e.Waited, e.State)
}

// DependentWarning records a non-fatal failure while handling one dependent
// container. Warnings are collected and returned alongside a successful
// primary result; they never change the upgrade verdict.
type DependentWarning struct {
	ContainerID   string
	ContainerName string
	Stage         string
	Err           error
}

func (w DependentWarning) String() string {
	return fmt.Sprintf("%s (%s): %s failed: %v", w.ContainerName, w.ContainerID, w.Stage, w.Err)
}
