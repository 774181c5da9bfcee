package container

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"fleetkeeper/pkg/config"
	"fleetkeeper/pkg/logger"
	"fleetkeeper/pkg/runtime"
)

const ownerLabel = "fleetkeeper.io/owner"

// KubernetesAdapter creates one bare Pod per Worker via client-go's typed
// CoreV1 client. Adapted from the teacher's pkg/deploy/k8s package (manager,
// pods, worker_status_monitor), scaled down from "Deployment + HPA + PVC" to
// "one Pod is one Worker" — the pool controller itself is the replica
// controller, so this never drives a Deployment's own replica count.
type KubernetesAdapter struct {
	cfg       *config.RuntimeConfig
	clientset kubernetes.Interface
}

// NewKubernetesAdapter builds a client from the in-cluster config, falling
// back to KUBECONFIG for out-of-cluster operation (e.g. local testing).
func NewKubernetesAdapter(cfg *config.RuntimeConfig) (*KubernetesAdapter, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := clientcmd.NewDefaultClientConfigLoadingRules().GetDefaultFilename()
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("building kubernetes client config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("building kubernetes clientset: %w", err)
	}

	return &KubernetesAdapter{cfg: cfg, clientset: clientset}, nil
}

func (a *KubernetesAdapter) Prepare(ctx context.Context) error {
	// Image presence is enforced by the cluster's own pull policy on Pod
	// creation; there is no separate pre-pull step for the k8s backend.
	return nil
}

func (a *KubernetesAdapter) Create(ctx context.Context, port int) (*runtime.Handle, error) {
	name := fmt.Sprintf("%s-%d", a.cfg.NamePrefix, port)
	pod := a.podSpec(name)

	created, err := a.clientset.CoreV1().Pods(a.cfg.Namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("creating worker pod %s: %w", name, err)
	}

	return &runtime.Handle{ID: created.Name, Name: created.Name, Port: port}, nil
}

func (a *KubernetesAdapter) Terminate(ctx context.Context, handle *runtime.Handle) error {
	err := a.clientset.CoreV1().Pods(a.cfg.Namespace).Delete(ctx, handle.Name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		logger.Warn(fmt.Sprintf("deleting worker pod %s: %v", handle.Name, err))
		return err
	}
	return nil
}

func (a *KubernetesAdapter) State(ctx context.Context, handle *runtime.Handle) (runtime.Phase, error) {
	pod, err := a.clientset.CoreV1().Pods(a.cfg.Namespace).Get(ctx, handle.Name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return runtime.PhaseNotFound, nil
		}
		return runtime.PhaseNotFound, err
	}

	switch pod.Status.Phase {
	case corev1.PodPending:
		return runtime.PhaseStarting, nil
	case corev1.PodRunning:
		return runtime.PhaseRunning, nil
	case corev1.PodSucceeded, corev1.PodFailed:
		return runtime.PhaseExited, nil
	default:
		return runtime.PhaseNotFound, nil
	}
}

func (a *KubernetesAdapter) ListOwned(ctx context.Context) ([]string, error) {
	list, err := a.clientset.CoreV1().Pods(a.cfg.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", ownerLabel, a.cfg.NamePrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("listing owned worker pods: %w", err)
	}

	names := make([]string, 0, len(list.Items))
	for _, pod := range list.Items {
		names = append(names, pod.Name)
	}
	return names, nil
}

// podSpec builds the bare Pod manifest for a single Worker.
func (a *KubernetesAdapter) podSpec(name string) *corev1.Pod {
	var envVars []corev1.EnvVar
	for k, v := range a.cfg.Env {
		envVars = append(envVars, corev1.EnvVar{Name: k, Value: v})
	}

	pullPolicy := corev1.PullIfNotPresent
	switch a.cfg.PullPolicy {
	case "always":
		pullPolicy = corev1.PullAlways
	case "never":
		pullPolicy = corev1.PullNever
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: a.cfg.Namespace,
			Labels: map[string]string{
				ownerLabel: a.cfg.NamePrefix,
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{
				{
					Name:  "worker",
					Image: a.cfg.Image,
					Ports: []corev1.ContainerPort{
						{ContainerPort: int32(a.cfg.ContainerPort)},
					},
					Env:             envVars,
					ImagePullPolicy: pullPolicy,
				},
			},
		},
	}
}
