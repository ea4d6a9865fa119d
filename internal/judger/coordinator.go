// Package judger implements the Judger Coordinator (C11): the streaming
// gRPC entry point that sequences a compile followed by per-case judging,
// enforcing the shared-secret check, a request-rate limit, and resource
// admission ahead of ever spawning a sandbox.
package judger

import (
	"context"
	"crypto/subtle"
	"strings"

	judgev1 "judgecore/api/gen/judge/v1"
	"judgecore/internal/artifact"
	"judgecore/internal/matcher"
	"judgecore/internal/plugin"
	"judgecore/internal/verdict"
	"judgecore/pkg/utils/logger"

	pkgerrors "judgecore/pkg/errors"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Coordinator holds everything the Judger service needs to serve a request:
// the Artifact Factory (which itself owns the registry and semaphore), the
// optional shared secret, and a process-wide rate limiter.
type Coordinator struct {
	judgev1.UnimplementedJudgerServer

	factory  *artifact.Factory
	registry *plugin.Registry
	secret   string
	limiter  *rate.Limiter
	platform PlatformInfo
}

// PlatformInfo carries the platform-wide scaling constants JudgerInfo
// reports alongside the plugin catalog.
type PlatformInfo struct {
	TotalMemory uint64
	AccuracyNs  uint64
	CPUFactor   float32
}

// NewCoordinator builds a Coordinator. rateLimit/burst configure the
// process-wide token bucket gating Judge and Exec ahead of C1 admission
// (JudgerInfo is not rate limited); a
// non-positive rateLimit disables limiting (rate.Inf).
func NewCoordinator(factory *artifact.Factory, registry *plugin.Registry, secret string, rateLimit float64, burst int, platform PlatformInfo) *Coordinator {
	limit := rate.Limit(rateLimit)
	if rateLimit <= 0 {
		limit = rate.Inf
	}
	return &Coordinator{
		factory:  factory,
		registry: registry,
		secret:   secret,
		limiter:  rate.NewLimiter(limit, burst),
		platform: platform,
	}
}

// RegisterJudgerService registers the coordinator against a gRPC server.
func RegisterJudgerService(grpcServer *grpc.Server, c *Coordinator) {
	judgev1.RegisterJudgerServer(grpcServer, c)
}

// Judge implements the streaming compile-then-judge RPC of spec.md §4.11.
func (c *Coordinator) Judge(req *judgev1.JudgeRequest, stream judgev1.Judger_JudgeServer) error {
	ctx := stream.Context()
	if err := c.authorize(ctx); err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}

	rule, err := matchRuleOf(req.GetRule())
	if err != nil {
		return err
	}

	outcome, err := c.factory.Compile(ctx, req.GetLangId(), req.GetCode())
	if err != nil {
		return mapError(err)
	}
	if outcome.CE {
		return stream.Send(&judgev1.JudgeResponse{
			Task: &judgev1.JudgeResponse_Result{Result: &judgev1.JudgeResult{
				Status:     judgev1.Verdict_CE,
				CompileLog: compileLogProto(outcome.Logs),
			}},
		})
	}
	defer outcome.Artifact.Close(ctx)

	for i, tc := range req.GetTests() {
		if err := stream.Send(&judgev1.JudgeResponse{
			Task: &judgev1.JudgeResponse_Case{Case: int32(i + 1)},
		}); err != nil {
			return err
		}

		result, err := outcome.Artifact.Judge(ctx, tc.GetInput(), tc.GetOutput(), req.GetTimeMultiplier(), req.GetMemoryMultiplier(), rule)
		if err != nil {
			logger.Warn(ctx, "judge case failed, reporting NA", zap.Error(err), zap.Int("case", i+1))
			result = artifact.CaseResult{Code: verdict.NA}
		}

		if err := stream.Send(&judgev1.JudgeResponse{
			Task: &judgev1.JudgeResponse_Result{Result: &judgev1.JudgeResult{
				Status:      verdictProto(result.Code),
				MaxTimeUs:   uint64(result.Stat.CPU.TotalUs),
				MaxMemBytes: uint64(result.Stat.Memory.Peak),
			}},
		}); err != nil {
			return err
		}

		if result.Code != verdict.AC {
			return nil
		}
	}
	return nil
}

// Exec implements the playground RPC: same admission/compile/sandbox
// plumbing as Judge, run once against req's input with no expected answer.
// It sends a single Result event carrying the verdict and usage; the
// program's stdout is not sent, and no stdout_chunk events are emitted.
func (c *Coordinator) Exec(req *judgev1.ExecRequest, stream judgev1.Judger_ExecServer) error {
	ctx := stream.Context()
	if err := c.authorize(ctx); err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}

	outcome, err := c.factory.Compile(ctx, req.GetLangId(), req.GetCode())
	if err != nil {
		return mapError(err)
	}
	if outcome.CE {
		return stream.Send(&judgev1.ExecResult{
			Event: &judgev1.ExecResult_Result{Result: &judgev1.JudgeResult{
				Status:     judgev1.Verdict_CE,
				CompileLog: compileLogProto(outcome.Logs),
			}},
		})
	}
	defer outcome.Artifact.Close(ctx)

	result, err := outcome.Artifact.Judge(ctx, req.GetInput(), nil, req.GetTimeMultiplier(), req.GetMemoryMultiplier(), matcher.Exact)
	if err != nil {
		logger.Warn(ctx, "exec failed, reporting NA", zap.Error(err))
		result = artifact.CaseResult{Code: verdict.NA}
	}

	// Exec has no expected output: the Exact match against an empty answer
	// yields WA for any non-empty stdout, so WA collapses to AC here and the
	// reported status reflects only how the run ended.
	status := result.Code
	if status == verdict.WA {
		status = verdict.AC
	}

	return stream.Send(&judgev1.ExecResult{
		Event: &judgev1.ExecResult_Result{Result: &judgev1.JudgeResult{
			Status:      verdictProto(status),
			MaxTimeUs:   uint64(result.Stat.CPU.TotalUs),
			MaxMemBytes: uint64(result.Stat.Memory.Peak),
		}},
	})
}

// JudgerInfo reports the loaded plugin catalog and platform constants.
func (c *Coordinator) JudgerInfo(ctx context.Context, _ *judgev1.JudgerInfoRequest) (*judgev1.JudgerInfoResponse, error) {
	if err := c.authorize(ctx); err != nil {
		return nil, err
	}

	specs := c.registry.All()
	langs := make([]*judgev1.LangInfo, 0, len(specs))
	for _, s := range specs {
		langs = append(langs, &judgev1.LangInfo{
			Id:        s.ID,
			Name:      s.Name,
			Extension: s.Extension,
			Info:      s.Info,
		})
	}

	return &judgev1.JudgerInfoResponse{
		Langs:       langs,
		TotalMemory: c.platform.TotalMemory,
		AccuracyNs:  c.platform.AccuracyNs,
		CpuFactor:   c.platform.CPUFactor,
	}, nil
}

// authorize checks the Authorization header in constant time when a secret
// is configured. No secret configured means every request is accepted.
func (c *Coordinator) authorize(ctx context.Context) error {
	if c.secret == "" {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.PermissionDenied, "missing authorization")
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return status.Error(codes.PermissionDenied, "missing authorization")
	}

	want := "basic " + c.secret
	got := values[0]
	// Pad both sides to the same length before comparing: subtle's
	// constant-time compare requires equal-length inputs, and rejecting a
	// length mismatch up front would itself leak timing information about
	// how close the length is to the secret's.
	if len(got) != len(want) {
		got = got + strings.Repeat("\x00", max(0, len(want)-len(got)))
		want = want + strings.Repeat("\x00", max(0, len(got)-len(want)))
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return status.Error(codes.PermissionDenied, "invalid secret")
	}
	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func matchRuleOf(r judgev1.MatchRule) (matcher.Rule, error) {
	switch r {
	case judgev1.MatchRule_EXACT:
		return matcher.Exact, nil
	case judgev1.MatchRule_IGNORE_SPACE_AND_NEWLINE:
		return matcher.IgnoreSpaceAndNewline, nil
	case judgev1.MatchRule_SKIP_SPACE_AND_NEWLINE:
		return matcher.SkipSpaceAndNewline, nil
	default:
		return 0, status.Error(codes.InvalidArgument, "invalid judge matching rule")
	}
}

func verdictProto(c verdict.Code) judgev1.Verdict {
	switch c {
	case verdict.AC:
		return judgev1.Verdict_AC
	case verdict.WA:
		return judgev1.Verdict_WA
	case verdict.CE:
		return judgev1.Verdict_CE
	case verdict.RE:
		return judgev1.Verdict_RE
	case verdict.MLE:
		return judgev1.Verdict_MLE
	case verdict.TLE:
		return judgev1.Verdict_TLE
	case verdict.OLE:
		return judgev1.Verdict_OLE
	case verdict.RF:
		return judgev1.Verdict_RF
	default:
		return judgev1.Verdict_NA
	}
}

func compileLogProto(lines []verdict.CompileLogLine) []*judgev1.CompileLogLine {
	out := make([]*judgev1.CompileLogLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, &judgev1.CompileLogLine{Level: int32(l.Level), Message: l.Message})
	}
	return out
}

// mapError translates the sandbox/plugin error taxonomy (spec.md §7) to
// gRPC status codes, mirroring internal/problem/rpc/server.go's mapError.
func mapError(err error) error {
	code := pkgerrors.GetCode(err)
	switch code {
	case pkgerrors.ImpossibleResource, pkgerrors.QueueFull:
		return status.Error(codes.ResourceExhausted, code.Message())
	case pkgerrors.PluginNotFound:
		return status.Error(codes.InvalidArgument, code.Message())
	default:
		return status.Error(codes.Internal, code.Message())
	}
}
