package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/TheBlueGeneral/dockmate/internal/build"
)

type fakeSTS struct {
	account string
	err     error
}

func (f *fakeSTS) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sts.GetCallerIdentityOutput{Account: aws.String(f.account)}, nil
}

type fakeECR struct {
	describeErr error
	createErr   error
	createCalls int
}

func (f *fakeECR) GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
	token := base64.StdEncoding.EncodeToString([]byte("AWS:secretpass"))
	return &ecr.GetAuthorizationTokenOutput{
		AuthorizationData: []ecrtypes.AuthorizationData{{
			AuthorizationToken: aws.String(token),
			ProxyEndpoint:      aws.String("https://123.dkr.ecr.us-east-1.amazonaws.com"),
		}},
	}, nil
}

func (f *fakeECR) DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return &ecr.DescribeRepositoriesOutput{}, nil
}

func (f *fakeECR) CreateRepository(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error) {
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &ecr.CreateRepositoryOutput{}, nil
}

type scriptRunner struct {
	calls   [][]string
	results map[string]build.Result
	errs    map[string]error
}

func (s *scriptRunner) Run(ctx context.Context, dir, name string, args ...string) (build.Result, error) {
	call := append([]string{name}, args...)
	s.calls = append(s.calls, call)
	key := args[0]
	if err, ok := s.errs[key]; ok {
		return build.Result{}, err
	}
	if res, ok := s.results[key]; ok {
		return res, nil
	}
	return build.Result{OK: true}, nil
}

func newPublisher(stsAPI STSAPI, ecrAPI ECRAPI, runner build.Runner) Publisher {
	return New(stsAPI, ecrAPI, runner, "us-east-1", nil)
}

func TestPublishTagsAndPushes(t *testing.T) {
	runner := &scriptRunner{}
	pub := newPublisher(&fakeSTS{account: "123456789012"}, &fakeECR{}, runner)

	img, err := pub.Publish(context.Background(), "repo-1:latest", "repo-1")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	want := "123456789012.dkr.ecr.us-east-1.amazonaws.com/repo-1:latest"
	if img.URI != want {
		t.Fatalf("uri: got %q want %q", img.URI, want)
	}

	// login, tag, push, in that order.
	if len(runner.calls) != 3 {
		t.Fatalf("expected 3 docker invocations, got %v", runner.calls)
	}
	if runner.calls[0][1] != "login" || runner.calls[1][1] != "tag" || runner.calls[2][1] != "push" {
		t.Fatalf("unexpected call order: %v", runner.calls)
	}
	// Credentials come from the decoded token, not the raw base64 blob.
	login := strings.Join(runner.calls[0], " ")
	if !strings.Contains(login, "-u AWS") || !strings.Contains(login, "secretpass") {
		t.Fatalf("login used wrong credentials: %s", login)
	}
}

func TestPublishRepositoryAlreadyExists(t *testing.T) {
	ecrAPI := &fakeECR{
		describeErr: &ecrtypes.RepositoryNotFoundException{},
		createErr:   &ecrtypes.RepositoryAlreadyExistsException{},
	}
	pub := newPublisher(&fakeSTS{account: "123456789012"}, ecrAPI, &scriptRunner{})

	if _, err := pub.Publish(context.Background(), "repo-2:latest", "repo-2"); err != nil {
		t.Fatalf("already-exists must be treated as success: %v", err)
	}
	if ecrAPI.createCalls != 1 {
		t.Fatalf("expected one create attempt, got %d", ecrAPI.createCalls)
	}
}

func TestPublishCreatesMissingRepository(t *testing.T) {
	ecrAPI := &fakeECR{describeErr: &ecrtypes.RepositoryNotFoundException{}}
	pub := newPublisher(&fakeSTS{account: "123456789012"}, ecrAPI, &scriptRunner{})

	if _, err := pub.Publish(context.Background(), "repo-3:latest", "repo-3"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ecrAPI.createCalls != 1 {
		t.Fatalf("expected repository creation, got %d calls", ecrAPI.createCalls)
	}
}

func TestPublishExistingRepositorySkipsCreate(t *testing.T) {
	ecrAPI := &fakeECR{}
	pub := newPublisher(&fakeSTS{account: "123456789012"}, ecrAPI, &scriptRunner{})

	if _, err := pub.Publish(context.Background(), "repo-4:latest", "repo-4"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ecrAPI.createCalls != 0 {
		t.Fatalf("expected no create calls, got %d", ecrAPI.createCalls)
	}
}

func TestPublishPushFailureCarriesRemoteError(t *testing.T) {
	runner := &scriptRunner{results: map[string]build.Result{
		"push": {OK: false, Stderr: "denied: not authorized"},
	}}
	pub := newPublisher(&fakeSTS{account: "123456789012"}, &fakeECR{}, runner)

	_, err := pub.Publish(context.Background(), "repo-5:latest", "repo-5")
	var pubErr *PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %v", err)
	}
	if pubErr.Step != "push" {
		t.Fatalf("step: got %q", pubErr.Step)
	}
	if !strings.Contains(pubErr.Error(), "denied: not authorized") {
		t.Fatalf("remote error text missing: %v", pubErr)
	}
}

func TestPublishIdentityFailure(t *testing.T) {
	pub := newPublisher(&fakeSTS{err: errors.New("expired credentials")}, &fakeECR{}, &scriptRunner{})

	_, err := pub.Publish(context.Background(), "repo-6:latest", "repo-6")
	var pubErr *PublishError
	if !errors.As(err, &pubErr) || pubErr.Step != "identity" {
		t.Fatalf("expected identity PublishError, got %v", err)
	}
}
