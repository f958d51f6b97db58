// Package deploy generates docker-compose deployments for inference engines
// and drives their lifecycle on benchmark VMs.
package deploy

import (
	"fmt"
	"strings"

	"github.com/gpubench/gpubench/internal/recipe"
)

const (
	// LBPort is the nginx load balancer port used for multi-instance
	// deployments. Single-instance deployments expose recipe.EnginePort
	// directly.
	LBPort = 8080

	composeFilename = "docker-compose.yaml"
	nginxFilename   = "nginx.conf"
)

// NumInstances is the number of engine containers a recipe deploys on a VM
// with gpuCount GPUs. Each instance consumes tp*pp GPUs; leftover GPUs stay
// idle.
func NumInstances(rec *recipe.Recipe, gpuCount int) int {
	perInstance := rec.LLM().GPUsPerInstance()
	if gpuCount <= 0 || perInstance <= 0 {
		return 1
	}
	n := gpuCount / perInstance
	if n < 1 {
		return 1
	}
	return n
}

// EndpointPort is the host port serving the OpenAI-compatible API: the
// engine port for a single instance, the nginx port above that.
func EndpointPort(numInstances int) int {
	if numInstances > 1 {
		return LBPort
	}
	return recipe.EnginePort
}

// ComposeSpec is everything compose generation needs.
type ComposeSpec struct {
	Recipe       *recipe.Recipe
	ModelDir     string // HuggingFace cache dir, volume-mounted into containers
	HFToken      string
	NumInstances int
	// DeviceIDs restricts GPU visibility for a single-instance deployment
	// sharing a VM with other tasks. Ignored when NumInstances > 1.
	DeviceIDs []int
}

// GenerateCompose renders the docker-compose.yaml for a deployment.
//
// Single instance: one engine service on the engine port, all GPUs (or the
// DeviceIDs subset). Multi-instance: N services pinned to disjoint GPU
// ranges plus an nginx least_conn balancer on LBPort.
func GenerateCompose(spec ComposeSpec) string {
	llm := spec.Recipe.LLM()
	engine := string(llm.Engine)
	perInstance := llm.GPUsPerInstance()
	args := recipe.BuildEngineArgs(llm, spec.Recipe.ModelName())

	var b strings.Builder
	b.WriteString("services:\n")

	for i := 0; i < spec.NumInstances; i++ {
		var gpuConfig string
		var port int
		if spec.NumInstances == 1 {
			if len(spec.DeviceIDs) > 0 {
				gpuConfig = deviceIDsYAML(spec.DeviceIDs)
			} else {
				gpuConfig = "count: all"
			}
			port = recipe.EnginePort
		} else {
			ids := make([]int, perInstance)
			for j := range ids {
				ids[j] = i*perInstance + j
			}
			gpuConfig = deviceIDsYAML(ids)
			port = recipe.EnginePort + i
		}

		fmt.Fprintf(&b, `
  %[1]s_%[2]d:
    image: %[3]s
    container_name: %[1]s_%[2]d
`, engine, i, llm.Image())

		if entrypoint := llm.Entrypoint(); entrypoint != "" {
			fmt.Fprintf(&b, "    entrypoint: %s\n", entrypoint)
		}

		fmt.Fprintf(&b, `    deploy:
      resources:
        reservations:
          devices:
            - driver: nvidia
              %s
              capabilities: [gpu]
    volumes:
      - %[2]s:%[2]s
    environment:
      - HUGGING_FACE_HUB_TOKEN=%[3]s
      - HF_HOME=%[2]s
    ports:
      - "%[4]d:%[5]d"
    shm_size: '16gb'
    ipc: host
    command: >
      %[6]s
    healthcheck:
      test: ["CMD", "bash", "-c", "curl -f http://localhost:%[5]d/health"]
      interval: 10s
      timeout: 10s
      retries: 180
      start_period: 600s
`, gpuConfig, spec.ModelDir, spec.HFToken, port, recipe.EnginePort, strings.Join(args, "\n      "))
	}

	if spec.NumInstances > 1 {
		var depends []string
		for i := 0; i < spec.NumInstances; i++ {
			depends = append(depends, fmt.Sprintf("      %s_%d:\n        condition: service_healthy", engine, i))
		}
		fmt.Fprintf(&b, `
  nginx:
    image: nginx:alpine
    container_name: nginx_lb
    ports:
      - "%[1]d:%[1]d"
    volumes:
      - ./nginx.conf:/etc/nginx/nginx.conf:ro
    depends_on:
%s
`, LBPort, strings.Join(depends, "\n"))
	}

	return b.String()
}

func deviceIDsYAML(ids []int) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = fmt.Sprintf("'%d'", id)
	}
	return fmt.Sprintf("device_ids: [%s]", strings.Join(quoted, ", "))
}

// GenerateNginxConf renders the least_conn upstream config balancing across
// the engine services.
func GenerateNginxConf(engine recipe.Engine, numInstances int) string {
	var servers []string
	for i := 0; i < numInstances; i++ {
		servers = append(servers, fmt.Sprintf("        server %s_%d:%d;", engine, i, recipe.EnginePort))
	}

	return fmt.Sprintf(`worker_processes auto;

events {
    worker_connections 4096;
}

http {
    upstream llm_backend {
        least_conn;
%s
    }

    server {
        listen %d;

        location / {
            proxy_pass http://llm_backend;
            proxy_http_version 1.1;
            proxy_set_header Connection "";
            proxy_set_header Host $host;
            proxy_set_header X-Real-IP $remote_addr;
            proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
            proxy_set_header X-Forwarded-Proto $scheme;

            proxy_connect_timeout 600s;
            proxy_send_timeout 600s;
            proxy_read_timeout 600s;

            proxy_buffering off;
        }
    }
}
`, strings.Join(servers, "\n"), LBPort)
}
