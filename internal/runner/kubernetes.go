package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/jamesturk/bobsled/internal/storage"
)

const taskContainerName = "task"

// KubernetesConfig holds settings for the remote backend.
type KubernetesConfig struct {
	// Namespace where task Jobs are created.
	Namespace string
	// ServiceAccount for task pods (optional).
	ServiceAccount string
	// Defaults applied when a task declares no resource limits.
	DefaultCPULimit    string
	DefaultMemoryLimit string
}

// KubernetesBackend runs tasks as batch Jobs in a managed cluster. It
// satisfies the same external semantics as the Docker backend; the only
// extra mechanic is resolving a Job's pod name before logs can be read.
type KubernetesBackend struct {
	clientset kubernetes.Interface
	config    KubernetesConfig
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE") // Windows
}

// NewKubernetesBackend creates a remote backend. It tries in-cluster
// configuration first and falls back to kubeconfig for local development.
func NewKubernetesBackend(cfg KubernetesConfig) (*KubernetesBackend, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := filepath.Join(homeDir(), ".kube", "config")
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.DefaultCPULimit == "" {
		cfg.DefaultCPULimit = "500m"
	}
	if cfg.DefaultMemoryLimit == "" {
		cfg.DefaultMemoryLimit = "256Mi"
	}

	return &KubernetesBackend{clientset: clientset, config: cfg}, nil
}

func (k *KubernetesBackend) Kind() storage.BackendKind { return storage.BackendKubernetes }

func (k *KubernetesBackend) limits(task *storage.Task) corev1.ResourceList {
	cpu := k.config.DefaultCPULimit
	if task.CPU > 0 {
		cpu = fmt.Sprintf("%dm", task.CPU*1000/1024)
	}
	memory := k.config.DefaultMemoryLimit
	if task.Memory > 0 {
		memory = fmt.Sprintf("%dMi", task.Memory)
	}
	return corev1.ResourceList{
		corev1.ResourceCPU:    resource.MustParse(cpu),
		corev1.ResourceMemory: resource.MustParse(memory),
	}
}

// Launch creates a batch Job for the task and returns its handle. The
// pod name is resolved lazily on the first Inspect or Logs call.
func (k *KubernetesBackend) Launch(ctx context.Context, task *storage.Task, env map[string]string) (storage.RunInfo, error) {
	jobName := fmt.Sprintf("bobsled-%s-%d", task.Name, time.Now().UnixNano())

	var envVars []corev1.EnvVar
	for key, value := range env {
		envVars = append(envVars, corev1.EnvVar{Name: key, Value: value})
	}

	backoffLimit := int32(0) // the engine owns retries, the cluster must not
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: k.config.Namespace,
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": "bobsled",
				"bobsled.io/task":              task.Name,
			},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{
						"job-name":                     jobName,
						"app.kubernetes.io/managed-by": "bobsled",
					},
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:    taskContainerName,
							Image:   task.Image,
							Command: task.Entrypoint,
							Env:     envVars,
							Resources: corev1.ResourceRequirements{
								Limits: k.limits(task),
							},
						},
					},
				},
			},
		},
	}
	if k.config.ServiceAccount != "" {
		job.Spec.Template.Spec.ServiceAccountName = k.config.ServiceAccount
	}

	created, err := k.clientset.BatchV1().Jobs(k.config.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return storage.RunInfo{}, fmt.Errorf("failed to create kubernetes job for %s: %w", task.Name, err)
	}

	return storage.RunInfo{
		Kind: storage.BackendKubernetes,
		Kubernetes: &storage.KubernetesInfo{
			Namespace: k.config.Namespace,
			JobName:   created.Name,
		},
	}, nil
}

// findPod resolves the pod backing a Job via the job-name label and
// caches it on the handle.
func (k *KubernetesBackend) findPod(ctx context.Context, info *storage.KubernetesInfo) (*corev1.Pod, error) {
	if info.PodName != "" {
		pod, err := k.clientset.CoreV1().Pods(info.Namespace).Get(ctx, info.PodName, metav1.GetOptions{})
		if err == nil {
			return pod, nil
		}
		if !apierrors.IsNotFound(err) {
			return nil, err
		}
	}

	pods, err := k.clientset.CoreV1().Pods(info.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("job-name=%s", info.JobName),
	})
	if err != nil {
		return nil, err
	}
	if len(pods.Items) == 0 {
		return nil, nil
	}
	info.PodName = pods.Items[0].Name
	return &pods.Items[0], nil
}

func (k *KubernetesBackend) Inspect(ctx context.Context, info storage.RunInfo) (Inspection, error) {
	if info.Kubernetes == nil {
		return Inspection{}, fmt.Errorf("run info does not hold a kubernetes handle")
	}

	_, err := k.clientset.BatchV1().Jobs(info.Kubernetes.Namespace).Get(ctx, info.Kubernetes.JobName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return Inspection{State: StateGone}, nil
		}
		return Inspection{}, fmt.Errorf("failed to get kubernetes job: %w", err)
	}

	pod, err := k.findPod(ctx, info.Kubernetes)
	if err != nil {
		return Inspection{}, fmt.Errorf("failed to resolve pod for job %s: %w", info.Kubernetes.JobName, err)
	}
	if pod == nil {
		// Job accepted but pod not scheduled yet.
		return Inspection{State: StateActive}, nil
	}

	switch pod.Status.Phase {
	case corev1.PodSucceeded:
		return Inspection{State: StateExited, ExitCode: 0}, nil
	case corev1.PodFailed:
		insp := Inspection{State: StateExited, ExitCode: -1}
		if len(pod.Status.ContainerStatuses) > 0 {
			if term := pod.Status.ContainerStatuses[0].State.Terminated; term != nil {
				insp.ExitCode = int(term.ExitCode)
				insp.ExitError = term.Reason
			}
		}
		return insp, nil
	default:
		return Inspection{State: StateActive}, nil
	}
}

func (k *KubernetesBackend) Logs(ctx context.Context, info storage.RunInfo) (string, error) {
	if info.Kubernetes == nil {
		return "", fmt.Errorf("run info does not hold a kubernetes handle")
	}

	pod, err := k.findPod(ctx, info.Kubernetes)
	if err != nil {
		return "", fmt.Errorf("failed to resolve pod for job %s: %w", info.Kubernetes.JobName, err)
	}
	if pod == nil {
		return "", nil
	}

	req := k.clientset.CoreV1().Pods(info.Kubernetes.Namespace).GetLogs(pod.Name, &corev1.PodLogOptions{
		Container: taskContainerName,
	})
	rc, err := req.Stream(ctx)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to stream pod logs: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read pod logs: %w", err)
	}
	return string(data), nil
}

func (k *KubernetesBackend) Remove(ctx context.Context, info storage.RunInfo, force bool) error {
	if info.Kubernetes == nil {
		return fmt.Errorf("run info does not hold a kubernetes handle")
	}

	// Foreground propagation so pods are reaped with the Job.
	propagation := metav1.DeletePropagationForeground
	err := k.clientset.BatchV1().Jobs(info.Kubernetes.Namespace).Delete(ctx, info.Kubernetes.JobName, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete job %s: %w", info.Kubernetes.JobName, err)
	}
	return nil
}

var _ Backend = (*KubernetesBackend)(nil)
