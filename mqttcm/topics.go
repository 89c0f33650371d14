package mqttcm

import (
	"fmt"

	"go.ntppool.org/common/config/depenv"
)

type MQTTTopics struct {
	e    depenv.DeploymentEnvironment
	name string
}

func NewTopics(depEnv depenv.DeploymentEnvironment, name string) *MQTTTopics {
	if len(name) == 0 {
		name = "dnsresults"
	}
	return &MQTTTopics{e: depEnv, name: name}
}

func (t *MQTTTopics) prefix() string {
	return fmt.Sprintf("/%s/%s", t.e, t.name)
}

// Snapshot is where the current snapshot is retained.
func (t *MQTTTopics) Snapshot() string {
	return t.prefix() + "/snapshot"
}

// Status has the retained online/offline status of the publisher.
func (t *MQTTTopics) Status() string {
	return t.prefix() + "/status"
}
