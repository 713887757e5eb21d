package domain

import "fmt"

// ModelSession is a concrete (framework, model, version, input-shape) tuple.
// Its canonical string form is the routing key for queries.
type ModelSession struct {
	Framework   string `json:"framework"`
	Name        string `json:"model_name"`
	Version     string `json:"version"`
	ImageHeight int    `json:"image_height"`
	ImageWidth  int    `json:"image_width"`
}

// String returns the canonical session id: fw:name:version:HxW.
func (s ModelSession) String() string {
	return fmt.Sprintf("%s:%s:%s:%dx%d", s.Framework, s.Name, s.Version, s.ImageHeight, s.ImageWidth)
}

// BackupBackend is a peer backend descriptor carried in a ModelInstanceConfig.
type BackupBackend struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
}

// ModelInstanceConfig is one entry of a scheduler directive. More than one
// session marks a composite model — either a TFShare suffix-group (framework
// "tf_share") or a SharePrefix group (anything else with len(Sessions) > 1).
type ModelInstanceConfig struct {
	Sessions       []ModelSession  `json:"model_session"`
	Batch          int             `json:"batch"`
	Backup         bool            `json:"backup"`
	BackupBackends []BackupBackend `json:"backup_backend"`
}

// Framework returns the framework of the config's first session, which for a
// tf_share composite determines the reconciliation branch taken.
func (c ModelInstanceConfig) Framework() string {
	if len(c.Sessions) == 0 {
		return ""
	}
	return c.Sessions[0].Framework
}

// IsComposite reports whether the config describes more than one session.
func (c ModelInstanceConfig) IsComposite() bool { return len(c.Sessions) > 1 }

// IsTFShare reports whether the config is a TFShare suffix-group.
func (c ModelInstanceConfig) IsTFShare() bool {
	return c.IsComposite() && c.Framework() == "tf_share"
}

// ModelTableConfig is a scheduler directive: the desired resident model set
// plus the duty-cycle budget to apply once reconciliation completes.
type ModelTableConfig struct {
	Instances   []ModelInstanceConfig `json:"model_instance_config"`
	DutyCycleUS int64                 `json:"duty_cycle_us"`
}
