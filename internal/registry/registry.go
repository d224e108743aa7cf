package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/TheBlueGeneral/dockmate/internal/build"
)

// PublishedImage is a remote-addressable image reference.
type PublishedImage struct {
	URI string
}

// PublishError reports which publish step failed.
type PublishError struct {
	Step string
	Err  error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Step, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// STSAPI is the subset of the STS client the publisher uses.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// ECRAPI is the subset of the ECR client the publisher uses.
type ECRAPI interface {
	GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
	DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
	CreateRepository(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
}

// Publisher pushes a locally built image to its ECR repository, creating the
// repository when missing.
type Publisher struct {
	sts    STSAPI
	ecr    ECRAPI
	runner build.Runner
	region string
	logger *slog.Logger
}

// New constructs a Publisher.
func New(stsAPI STSAPI, ecrAPI ECRAPI, runner build.Runner, region string, logger *slog.Logger) Publisher {
	if runner == nil {
		runner = build.CLIRunner{}
	}
	return Publisher{sts: stsAPI, ecr: ecrAPI, runner: runner, region: region, logger: logger}
}

// Publish resolves the remote endpoint and credentials, ensures the repository
// exists, then tags and pushes the local image. Credentials are resolved on
// every call because authorization tokens expire.
func (p Publisher) Publish(ctx context.Context, localTag, repoName string) (PublishedImage, error) {
	ident, err := p.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return PublishedImage{}, &PublishError{Step: "identity", Err: err}
	}
	account := aws.ToString(ident.Account)
	uri := fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com/%s:latest", account, p.region, repoName)

	if err := p.login(ctx); err != nil {
		return PublishedImage{}, err
	}
	if err := p.ensureRepository(ctx, repoName); err != nil {
		return PublishedImage{}, err
	}

	res, err := p.runner.Run(ctx, "", "docker", "tag", localTag, uri)
	if err != nil || !res.OK {
		return PublishedImage{}, &PublishError{Step: "tag", Err: runError(res, err)}
	}
	res, err = p.runner.Run(ctx, "", "docker", "push", uri)
	if err != nil || !res.OK {
		return PublishedImage{}, &PublishError{Step: "push", Err: runError(res, err)}
	}

	if p.logger != nil {
		p.logger.Info("image published", "uri", uri)
	}
	return PublishedImage{URI: uri}, nil
}

func (p Publisher) login(ctx context.Context) error {
	out, err := p.ecr.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return &PublishError{Step: "auth", Err: err}
	}
	if len(out.AuthorizationData) == 0 {
		return &PublishError{Step: "auth", Err: errors.New("no authorization data returned")}
	}
	data := out.AuthorizationData[0]
	user, password, err := decodeAuthToken(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return &PublishError{Step: "auth", Err: err}
	}
	endpoint := aws.ToString(data.ProxyEndpoint)

	res, err := p.runner.Run(ctx, "", "docker", "login", "-u", user, "-p", password, endpoint)
	if err != nil || !res.OK {
		return &PublishError{Step: "login", Err: runError(res, err)}
	}
	return nil
}

func (p Publisher) ensureRepository(ctx context.Context, repoName string) error {
	_, err := p.ecr.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{repoName},
	})
	if err == nil {
		return nil
	}
	_, err = p.ecr.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(repoName),
	})
	if err != nil {
		var exists *ecrtypes.RepositoryAlreadyExistsException
		if errors.As(err, &exists) {
			return nil
		}
		return &PublishError{Step: "repository", Err: err}
	}
	return nil
}

// decodeAuthToken splits the base64 "user:password" registry token.
func decodeAuthToken(token string) (string, string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", "", fmt.Errorf("decode authorization token: %w", err)
	}
	user, password, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", "", errors.New("malformed authorization token")
	}
	return user, password, nil
}

func runError(res build.Result, err error) error {
	if err != nil {
		return err
	}
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(res.Stdout)
	}
	if msg == "" {
		msg = "command failed"
	}
	return errors.New(msg)
}
