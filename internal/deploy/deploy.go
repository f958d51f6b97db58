package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gpubench/gpubench/internal/logging"
	"github.com/gpubench/gpubench/internal/metrics"
	"github.com/gpubench/gpubench/internal/recipe"
)

const (
	pullTimeout     = 30 * time.Minute
	downloadTimeout = time.Hour
	downTimeout     = 5 * time.Minute
	upTimeout       = 30 * time.Minute

	defaultHealthTimeout = 30 * time.Minute
	defaultSmokeTimeout  = 10 * time.Minute
	pollInterval         = 10 * time.Second

	smokePrompt = "What is 2+2? Answer with just the number."
)

// Runner executes commands and writes files on a benchmark VM. Implemented
// over SSH in production and by fakes in tests.
type Runner interface {
	// Run executes a shell command and returns its stdout. A non-zero exit
	// returns an error carrying stderr.
	Run(ctx context.Context, cmd string) (string, error)

	// WriteFile writes content to a file in the remote working directory.
	WriteFile(ctx context.Context, path string, content []byte) error
}

// Deployment describes a running engine deployment on a VM.
type Deployment struct {
	NumInstances int
	Port         int    // host port serving the OpenAI-compatible API
	Compose      string // generated compose file, embedded in result reports
}

// Deployer drives the engine deployment lifecycle on a single VM.
type Deployer struct {
	runner   Runner
	modelDir string
	hfToken  string

	healthTimeout time.Duration
	smokeTimeout  time.Duration
	pollInterval  time.Duration
}

// DeployerOption configures a Deployer.
type DeployerOption func(*Deployer)

// WithHealthTimeout sets how long to wait for the endpoint health check.
func WithHealthTimeout(d time.Duration) DeployerOption {
	return func(dep *Deployer) {
		dep.healthTimeout = d
	}
}

// WithSmokeTimeout sets how long to wait for the smoke test to pass.
func WithSmokeTimeout(d time.Duration) DeployerOption {
	return func(dep *Deployer) {
		dep.smokeTimeout = d
	}
}

// WithPollInterval sets the retry interval for health and smoke polling.
func WithPollInterval(d time.Duration) DeployerOption {
	return func(dep *Deployer) {
		dep.pollInterval = d
	}
}

// NewDeployer creates a Deployer. modelDir is the HuggingFace cache
// directory on the VM; hfToken may be empty for public models.
func NewDeployer(runner Runner, modelDir, hfToken string, opts ...DeployerOption) *Deployer {
	d := &Deployer{
		runner:        runner,
		modelDir:      modelDir,
		hfToken:       hfToken,
		healthTimeout: defaultHealthTimeout,
		smokeTimeout:  defaultSmokeTimeout,
		pollInterval:  pollInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deploy brings up the recipe's engine on the VM and verifies it serves
// correct completions. gpuCount is the number of GPUs the deployment may
// use; deviceIDs optionally restricts a single-instance deployment to
// specific GPUs.
func (d *Deployer) Deploy(ctx context.Context, rec *recipe.Recipe, gpuCount int, deviceIDs []int) (*Deployment, error) {
	numInstances := NumInstances(rec, gpuCount)
	port := EndpointPort(numInstances)

	spec := ComposeSpec{
		Recipe:       rec,
		ModelDir:     d.modelDir,
		HFToken:      d.hfToken,
		NumInstances: numInstances,
		DeviceIDs:    deviceIDs,
	}
	compose := GenerateCompose(spec)
	if err := d.runner.WriteFile(ctx, composeFilename, []byte(compose)); err != nil {
		return nil, fmt.Errorf("failed to write compose file: %w", err)
	}
	if numInstances > 1 {
		conf := GenerateNginxConf(rec.LLM().Engine, numInstances)
		if err := d.runner.WriteFile(ctx, nginxFilename, []byte(conf)); err != nil {
			return nil, fmt.Errorf("failed to write nginx config: %w", err)
		}
	}

	logging.Info(ctx, "pulling engine images", "image", rec.LLM().Image())
	if err := d.runStep(ctx, "docker compose pull", pullTimeout); err != nil {
		return nil, fmt.Errorf("failed to pull images: %w", err)
	}

	logging.Info(ctx, "downloading model", "model", rec.ModelName())
	if err := d.runStep(ctx, d.modelDownloadCmd(rec), downloadTimeout); err != nil {
		return nil, fmt.Errorf("failed to download model %s: %w", rec.ModelName(), err)
	}

	// Old containers from a previous task on this VM must go first.
	if err := d.runStep(ctx, "docker compose down", downTimeout); err != nil {
		logging.Warn(ctx, "compose down before deploy failed", "error", err)
	}

	logging.Info(ctx, "starting services", "instances", numInstances)
	if err := d.runStep(ctx, "docker compose up -d --wait --wait-timeout 1800", upTimeout); err != nil {
		d.dumpLogs(ctx)
		return nil, fmt.Errorf("failed to start services: %w", err)
	}

	if err := d.waitForHealth(ctx, port); err != nil {
		d.dumpLogs(ctx)
		return nil, err
	}

	if err := d.smokeTest(ctx, rec, port); err != nil {
		d.dumpLogs(ctx)
		return nil, err
	}

	logging.Info(ctx, "deployment ready", "model", rec.ModelName(), "port", port, "instances", numInstances)
	return &Deployment{NumInstances: numInstances, Port: port, Compose: compose}, nil
}

// Teardown stops all containers from the deployment.
func (d *Deployer) Teardown(ctx context.Context) error {
	if err := d.runStep(ctx, "docker compose down", downTimeout); err != nil {
		return fmt.Errorf("teardown failed: %w", err)
	}
	return nil
}

// modelDownloadCmd pre-downloads the model into the shared cache via
// huggingface-cli inside the engine image, so compose startup doesn't race
// N instances downloading the same weights.
func (d *Deployer) modelDownloadCmd(rec *recipe.Recipe) string {
	return fmt.Sprintf("docker run --rm"+
		" -e HUGGING_FACE_HUB_TOKEN=%[1]s"+
		" -e HF_HOME=%[2]s"+
		" -v %[2]s:%[2]s"+
		" --entrypoint bash"+
		" %[3]s"+
		" -c 'pip install huggingface_hub[cli,hf_transfer] && HF_HUB_ENABLE_HF_TRANSFER=1 huggingface-cli download %[4]s'",
		d.hfToken, d.modelDir, rec.LLM().Image(), rec.ModelName())
}

func (d *Deployer) runStep(ctx context.Context, cmd string, timeout time.Duration) error {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := d.runner.Run(stepCtx, cmd)
	return err
}

func (d *Deployer) waitForHealth(ctx context.Context, port int) error {
	healthCmd := fmt.Sprintf("curl -sf http://localhost:%d/health", port)
	deadline := time.Now().Add(d.healthTimeout)

	for time.Now().Before(deadline) {
		if err := d.runStep(ctx, healthCmd, 30*time.Second); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.pollInterval):
		}
	}
	return fmt.Errorf("health check timed out after %s", d.healthTimeout)
}

// smokeTest asks a trivial factual question and checks the answer, to catch
// deployments that serve garbage (wrong quantization, broken weights). The
// first request may be slow while the engine warms up, so retries continue
// until the timeout; a well-formed wrong answer fails immediately.
func (d *Deployer) smokeTest(ctx context.Context, rec *recipe.Recipe, port int) error {
	body := fmt.Sprintf(`{"model":"%s","messages":[{"role":"user","content":"%s"}],"max_tokens":16}`, rec.ModelName(), smokePrompt)
	cmd := fmt.Sprintf("curl -s http://localhost:%d/v1/chat/completions -H 'Content-Type: application/json' -d '%s'", port, body)

	deadline := time.Now().Add(d.smokeTimeout)
	for time.Now().Before(deadline) {
		out, err := func() (string, error) {
			stepCtx, cancel := context.WithTimeout(ctx, 3*time.Minute)
			defer cancel()
			return d.runner.Run(stepCtx, cmd)
		}()
		if err != nil || strings.TrimSpace(out) == "" {
			if waitErr := sleepCtx(ctx, d.pollInterval); waitErr != nil {
				return waitErr
			}
			continue
		}

		answer, ok := extractAnswer(out)
		if !ok {
			// Malformed response, the server may still be starting.
			if waitErr := sleepCtx(ctx, d.pollInterval); waitErr != nil {
				return waitErr
			}
			continue
		}

		if strings.Contains(answer, "4") {
			logging.Info(ctx, "smoke test passed")
			return nil
		}
		metrics.RecordSmokeTestFailure(string(rec.LLM().Engine))
		return fmt.Errorf("smoke test failed: model returned wrong answer %q", answer)
	}
	metrics.RecordSmokeTestFailure(string(rec.LLM().Engine))
	return fmt.Errorf("smoke test timed out after %s: endpoint not ready", d.smokeTimeout)
}

func extractAnswer(out string) (string, bool) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil || len(resp.Choices) == 0 {
		return "", false
	}
	return resp.Choices[0].Message.Content, true
}

func (d *Deployer) dumpLogs(ctx context.Context) {
	out, err := func() (string, error) {
		logCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		return d.runner.Run(logCtx, "docker compose logs --tail=100")
	}()
	if err != nil {
		return
	}
	logging.Warn(ctx, "container logs", "logs", out)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
