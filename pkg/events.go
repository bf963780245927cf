package pkg

import (
	"github.com/sirupsen/logrus"
)

// Event actions and stages. The engine emits one event before and one after
// every device and link operation; the hook is observability only and
// carries no control-flow meaning.
const (
	ActionPowerOn      = "power-on"
	ActionPowerOff     = "power-off"
	ActionLinkSetup    = "link-setup"
	ActionLinkTeardown = "link-teardown"

	StageSettingUp = "setting up"
	StageComplete  = "complete"
)

type Event struct {
	Action string
	Stage  string
	Device string
	Link   string
}

// EventFunc receives progress events. Hooks must be safe for concurrent
// calls: device and link operations run in parallel.
type EventFunc func(Event)

// LogEvent is the default hook, printing the classic progress lines.
func LogEvent(ev Event) {
	switch ev.Action {
	case ActionPowerOn:
		if ev.Stage == StageComplete {
			logrus.WithField("device", ev.Device).Info("powered on")
		}
	case ActionPowerOff:
		if ev.Stage == StageComplete {
			logrus.WithField("device", ev.Device).Info("powered off")
		}
	case ActionLinkSetup:
		logrus.WithField("link", ev.Link).Infof("link-setup: %s", ev.Stage)
	case ActionLinkTeardown:
		if ev.Stage == StageComplete {
			logrus.WithField("link", ev.Link).Info("link-teardown: complete")
		}
	}
}
