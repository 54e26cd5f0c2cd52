package k8s

import (
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// Clients to one kubernetes cluster.
type Clients struct {
	Typed   kubernetes.Interface
	Dynamic dynamic.Interface
}

// Connect builds clients of the cluster.
//
// The kubeconfig is searched from (the latter wins)
//
// - `~/.kube/config`
//
// - environmental variable `KUBECONFIG`
//
// - the argument kubeconfig
//
// When no files are found from above, it tries to use in-cluster config.
func Connect(kubeconfig string) (Clients, error) {
	path := ""

	// priority 1 (least): ~/.kube/config
	if home := homedir.HomeDir(); home != "" {
		path = filepath.Join(home, ".kube", "config")
	}

	// priority 2: envvar KUBECONFIG
	if k := os.Getenv("KUBECONFIG"); k != "" {
		path = k
	}

	// priority 3 (most): argument
	if kubeconfig != "" {
		path = kubeconfig
	}

	if path != "" {
		stat, err := os.Stat(path)
		if os.IsNotExist(err) || (err == nil && stat.IsDir()) {
			path = ""
		}
	}

	var config *rest.Config
	var err error
	if path == "" {
		// fallback: try in-cluster
		config, err = rest.InClusterConfig()
	} else {
		config, err = clientcmd.BuildConfigFromFlags("", path)
	}
	if err != nil {
		return Clients{}, fmt.Errorf("kubernetes config: %w", err)
	}

	typed, err := kubernetes.NewForConfig(config)
	if err != nil {
		return Clients{}, fmt.Errorf("kubernetes client: %w", err)
	}
	dyn, err := dynamic.NewForConfig(config)
	if err != nil {
		return Clients{}, fmt.Errorf("kubernetes dynamic client: %w", err)
	}
	return Clients{Typed: typed, Dynamic: dyn}, nil
}
