package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
)

// Fixed Fargate sizing for deployed workloads.
const (
	taskCPU    = "256"
	taskMemory = "512"
)

// ExecutionTask references a launched task and where it writes logs.
type ExecutionTask struct {
	TaskRef      string
	LogGroup     string
	StreamPrefix string
}

// LaunchError reports which launch step failed.
type LaunchError struct {
	Step string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Step, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ECSAPI is the subset of the ECS client the launcher uses.
type ECSAPI interface {
	RegisterTaskDefinition(ctx context.Context, params *ecs.RegisterTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.RegisterTaskDefinitionOutput, error)
	RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
}

// LogsAPI is the subset of the CloudWatch Logs client the launcher uses.
type LogsAPI interface {
	CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
}

// Config carries the network and IAM settings for launched tasks. Subnet
// placement is deliberately external input, never hard-coded.
type Config struct {
	Region           string
	ExecutionRoleARN string
	SubnetIDs        []string
	AssignPublicIP   bool
}

// Launcher registers a task definition for a published image and starts one
// instance of it on Fargate.
type Launcher struct {
	ecs    ECSAPI
	logs   LogsAPI
	cfg    Config
	logger *slog.Logger
}

// New constructs a Launcher.
func New(ecsAPI ECSAPI, logsAPI LogsAPI, cfg Config, logger *slog.Logger) Launcher {
	return Launcher{ecs: ecsAPI, logs: logsAPI, cfg: cfg, logger: logger}
}

// Launch ensures the log group exists, registers the task shape and runs it.
// It does not wait for the task to reach RUNNING; log streaming tolerates a
// task that has not started emitting yet.
func (l Launcher) Launch(ctx context.Context, imageURI, clusterName, taskName, logGroup string) (ExecutionTask, error) {
	if err := l.ensureLogGroup(ctx, logGroup); err != nil {
		return ExecutionTask{}, err
	}

	register, err := l.ecs.RegisterTaskDefinition(ctx, &ecs.RegisterTaskDefinitionInput{
		Family:      aws.String(taskName),
		NetworkMode: ecstypes.NetworkModeAwsvpc,
		ContainerDefinitions: []ecstypes.ContainerDefinition{{
			Name:      aws.String(taskName),
			Image:     aws.String(imageURI),
			Essential: aws.Bool(true),
			Cpu:       256,
			Memory:    aws.Int32(512),
			LogConfiguration: &ecstypes.LogConfiguration{
				LogDriver: ecstypes.LogDriverAwslogs,
				Options: map[string]string{
					"awslogs-group":         logGroup,
					"awslogs-region":        l.cfg.Region,
					"awslogs-stream-prefix": taskName,
				},
			},
		}},
		RequiresCompatibilities: []ecstypes.Compatibility{ecstypes.CompatibilityFargate},
		Cpu:                     aws.String(taskCPU),
		Memory:                  aws.String(taskMemory),
		ExecutionRoleArn:        aws.String(l.cfg.ExecutionRoleARN),
	})
	if err != nil {
		return ExecutionTask{}, &LaunchError{Step: "register", Err: err}
	}

	assignIP := ecstypes.AssignPublicIpDisabled
	if l.cfg.AssignPublicIP {
		assignIP = ecstypes.AssignPublicIpEnabled
	}
	run, err := l.ecs.RunTask(ctx, &ecs.RunTaskInput{
		Cluster:        aws.String(clusterName),
		TaskDefinition: register.TaskDefinition.TaskDefinitionArn,
		LaunchType:     ecstypes.LaunchTypeFargate,
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        l.cfg.SubnetIDs,
				AssignPublicIp: assignIP,
			},
		},
	})
	if err != nil {
		return ExecutionTask{}, &LaunchError{Step: "run", Err: err}
	}
	if len(run.Failures) > 0 {
		failure := run.Failures[0]
		return ExecutionTask{}, &LaunchError{Step: "run", Err: fmt.Errorf("%s: %s",
			aws.ToString(failure.Reason), aws.ToString(failure.Detail))}
	}
	if len(run.Tasks) == 0 {
		return ExecutionTask{}, &LaunchError{Step: "run", Err: errors.New("no task started")}
	}

	task := ExecutionTask{
		TaskRef:      aws.ToString(run.Tasks[0].TaskArn),
		LogGroup:     logGroup,
		StreamPrefix: taskName,
	}
	if l.logger != nil {
		l.logger.Info("task launched", "task_arn", task.TaskRef, "cluster", clusterName)
	}
	return task, nil
}

func (l Launcher) ensureLogGroup(ctx context.Context, logGroup string) error {
	_, err := l.logs.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(logGroup),
	})
	if err != nil {
		var exists *cwltypes.ResourceAlreadyExistsException
		if errors.As(err, &exists) {
			return nil
		}
		return &LaunchError{Step: "log-group", Err: err}
	}
	return nil
}
