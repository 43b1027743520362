package bluez

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattd/internal/agent"
)

// AgentManager registers pairing agents with BlueZ.
type AgentManager struct {
	conn   Conn
	obj    dbus.BusObject
	logger *logrus.Logger
}

func NewAgentManager(conn Conn, logger *logrus.Logger) *AgentManager {
	if logger == nil {
		logger = logrus.New()
	}
	return &AgentManager{conn: conn, obj: conn.Object(Service, AgentManagerPath), logger: logger}
}

// Register exports a and registers it. With makeDefault it also requests default-agent
// status so BlueZ routes every pairing request to it.
func (m *AgentManager) Register(a *agent.Agent, makeDefault bool) error {
	path := a.Path()
	if err := m.conn.Export(a, path, agent.Interface); err != nil {
		return fmt.Errorf("export agent: %w", err)
	}
	if err := m.conn.Export(introspectable(agentIntrospect), path, IntrospectableInterface); err != nil {
		m.unexport(path)
		return fmt.Errorf("export agent introspection: %w", err)
	}

	if call := m.obj.Call(AgentManagerInterface+".RegisterAgent", 0, path, a.Capability().String()); call.Err != nil {
		m.unexport(path)
		return fmt.Errorf("register agent %s: %w", path, call.Err)
	}
	if makeDefault {
		if call := m.obj.Call(AgentManagerInterface+".RequestDefaultAgent", 0, path); call.Err != nil {
			_ = m.Unregister(a)
			return fmt.Errorf("request default agent %s: %w", path, call.Err)
		}
	}

	m.logger.WithFields(logrus.Fields{
		"path":       path,
		"capability": a.Capability(),
		"default":    makeDefault,
	}).Info("Pairing agent registered")
	return nil
}

// Unregister withdraws a from BlueZ and the bus.
func (m *AgentManager) Unregister(a *agent.Agent) error {
	path := a.Path()
	call := m.obj.Call(AgentManagerInterface+".UnregisterAgent", 0, path)
	m.unexport(path)
	if call.Err != nil {
		return fmt.Errorf("unregister agent %s: %w", path, call.Err)
	}
	return nil
}

func (m *AgentManager) unexport(path dbus.ObjectPath) {
	_ = m.conn.Export(nil, path, agent.Interface)
	_ = m.conn.Export(nil, path, IntrospectableInterface)
}
