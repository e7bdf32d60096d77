package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"flowgate/internal/workflow"
)

// Config models flowgate.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Workflow struct {
		// Rules are ordered key/value pairs; order decides tie-breaking
		// between equally weighted actions.
		Rules          []workflow.Rule   `yaml:"rules"`
		AbortAction    string            `yaml:"abort_action"`
		RestrictOwners bool              `yaml:"restrict_owners"`
		Aliases        map[string]string `yaml:"aliases"`
	} `yaml:"workflow"`
	RBAC struct {
		Roles      map[string]RBACRole `yaml:"roles"`
		RoleGroups []string            `yaml:"role_groups"`
	} `yaml:"rbac"`
	Signing struct {
		TCRequired  bool           `yaml:"tc_required"`
		TCDelegated bool           `yaml:"tc_delegated"`
		Capacities  map[string]int `yaml:"capacities"`
	} `yaml:"signing"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig describes one event delivery target.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with fg project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "issue-tracker" {
		return fmt.Errorf("config.project.kind must be 'issue-tracker'")
	}
	if len(c.Workflow.Rules) == 0 {
		return fmt.Errorf("config.workflow.rules is required")
	}
	for i, r := range c.Workflow.Rules {
		if r.Key == "" {
			return fmt.Errorf("config.workflow.rules[%d] has empty key", i)
		}
	}
	for old, canonical := range c.Workflow.Aliases {
		if old == "" || canonical == "" {
			return fmt.Errorf("config.workflow.aliases contains empty status")
		}
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["admin"]; !ok {
			return fmt.Errorf("config.rbac.roles must include admin")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				switch perm {
				case workflow.PermModify, workflow.PermCreate, workflow.PermAuthorize, workflow.PermAdmin:
				default:
					return fmt.Errorf("role %s has unknown permission %s", roleID, perm)
				}
			}
		}
	}
	for _, g := range c.RBAC.RoleGroups {
		if g == "" {
			return fmt.Errorf("config.rbac.role_groups contains empty group")
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	for sourceType, capacity := range c.Signing.Capacities {
		if sourceType == "" {
			return fmt.Errorf("config.signing.capacities has empty source type")
		}
		if capacity < 1 {
			return fmt.Errorf("capacity for source type %s must be positive", sourceType)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "flowgate.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Kind = "issue-tracker"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// RoleGroupSet returns the configured role groups as a lookup set.
func (c *Config) RoleGroupSet() map[string]bool {
	out := make(map[string]bool, len(c.RBAC.RoleGroups))
	for _, g := range c.RBAC.RoleGroups {
		out[g] = true
	}
	return out
}

// QuotaPolicy builds the signing quota knobs for the engine.
func (c *Config) QuotaPolicy() workflow.QuotaPolicy {
	return workflow.QuotaPolicy{
		TCRequired:  c.Signing.TCRequired,
		TCDelegated: c.Signing.TCDelegated,
		Capacities:  c.Signing.Capacities,
	}
}

const defaultTemplate = `project:
  id: %s
  kind: issue-tracker

workflow:
  abort_action: abort
  restrict_owners: true
  aliases:
    04-assigned_for_release: 06-assigned_for_release
    05-assigned_for_release: 06-assigned_for_release
    assigned_for_closure: 07-assigned_for_closure_actions
  rules:
    - {key: describe, value: "01-assigned_for_description -> *"}
    - {key: describe.name, value: describe}
    - {key: describe.default, value: "4"}
    - {key: describe.triage_operations, value: "EFR -> set_owner_to_peer // ECR -> set_owner_to_peer // RF -> set_owner_to_peer // PRF -> set_owner_to_peer // MOM -> set_owner_to_peer // RISK -> set_owner_to_peer // AI -> set_owner_to_peer // MEMO -> set_owner_to_peer // ECM1 -> set_owner_to_peer"}
    - {key: describe.triage_permissions, value: "EFR -> MODIFY // ECR -> MODIFY // RF -> MODIFY // PRF -> MODIFY // MOM -> MODIFY // RISK -> MODIFY // AI -> MODIFY // MEMO -> MODIFY // ECM1 -> MODIFY"}
    - {key: describe.triage_roles, value: "EFR -> author // ECR -> author // RF -> reviewer // PRF -> reviewer"}
    - {key: describe.triage_status, value: "EFR -> 02-described // ECR -> 02-described // RF -> 03-assigned_for_analysis // PRF -> 03-assigned_for_analysis // MOM -> 07-assigned_for_closure_actions // RISK -> 07-assigned_for_closure_actions // AI -> 05-assigned_for_implementation // MEMO -> 07-assigned_for_closure_actions // ECM1 -> 07-assigned_for_closure_actions"}

    - {key: validate_description, value: "02-described -> *"}
    - {key: validate_description.name, value: validate description}
    - {key: validate_description.default, value: "4"}
    - {key: validate_description.triage_operations, value: "EFR -> set_owner // ECR -> set_owner // RF -> set_owner // PRF -> set_owner"}
    - {key: validate_description.triage_permissions, value: "EFR -> MODIFY // ECR -> MODIFY // RF -> MODIFY // PRF -> MODIFY"}
    - {key: validate_description.triage_roles, value: "EFR -> reviewer // ECR -> reviewer // RF -> author // PRF -> author"}
    - {key: validate_description.triage_status, value: "EFR -> 03-assigned_for_analysis // ECR -> 03-assigned_for_analysis // RF -> 03-assigned_for_analysis // PRF -> 03-assigned_for_analysis"}

    - {key: analyse, value: "03-assigned_for_analysis -> *"}
    - {key: analyse.name, value: analyse}
    - {key: analyse.default, value: "4"}
    - {key: analyse.triage_operations, value: "EFR -> set_owner_to_peer // ECR -> set_owner_to_peer // RF -> set_owner_to_peer // PRF -> set_owner_to_peer"}
    - {key: analyse.triage_permissions, value: "EFR -> MODIFY // ECR -> MODIFY // RF -> MODIFY // PRF -> MODIFY"}
    - {key: analyse.triage_roles, value: "EFR -> author // ECR -> author // RF -> reviewer // PRF -> reviewer"}
    - {key: analyse.triage_status, value: "EFR -> 04-analysed // ECR -> 04-analysed // RF -> 04-analysed // PRF -> 04-analysed"}

    - {key: validate_analysis, value: "04-analysed -> *"}
    - {key: validate_analysis.name, value: validate analysis}
    - {key: validate_analysis.default, value: "4"}
    - {key: validate_analysis.triage_operations, value: "EFR -> set_owner // ECR -> set_owner // RF -> set_owner // PRF -> set_owner"}
    - {key: validate_analysis.triage_permissions, value: "EFR -> MODIFY // ECR -> MODIFY // RF -> MODIFY // PRF -> MODIFY"}
    - {key: validate_analysis.triage_roles, value: "EFR -> reviewer // ECR -> reviewer // RF -> author // PRF -> author"}
    - {key: validate_analysis.triage_status, value: "EFR -> 07-assigned_for_closure_actions // ECR -> 05-assigned_for_implementation // RF -> 05-assigned_for_implementation // PRF -> 05-assigned_for_implementation"}

    - {key: implement, value: "05-assigned_for_implementation -> *"}
    - {key: implement.name, value: implement}
    - {key: implement.default, value: "4"}
    - {key: implement.triage_operations, value: "ECR -> set_owner_to_peer // RF -> set_owner_to_peer // PRF -> set_owner_to_peer // AI -> set_owner_to_peer"}
    - {key: implement.triage_permissions, value: "ECR -> MODIFY // RF -> MODIFY // PRF -> MODIFY // AI -> MODIFY"}
    - {key: implement.triage_roles, value: "ECR -> author // RF -> reviewer // PRF -> reviewer"}
    - {key: implement.triage_status, value: "ECR -> 06-implemented // RF -> 06-implemented // PRF -> 06-implemented // AI -> 07-assigned_for_closure_actions"}

    - {key: validate_implementation, value: "06-implemented -> *"}
    - {key: validate_implementation.name, value: validate implementation}
    - {key: validate_implementation.default, value: "4"}
    - {key: validate_implementation.triage_operations, value: "ECR -> set_owner // RF -> set_owner // PRF -> set_owner"}
    - {key: validate_implementation.triage_permissions, value: "ECR -> MODIFY // RF -> MODIFY // PRF -> MODIFY"}
    - {key: validate_implementation.triage_roles, value: "ECR -> reviewer // RF -> author // PRF -> author"}
    - {key: validate_implementation.triage_status, value: "ECR -> 07-assigned_for_closure_actions // RF -> 07-assigned_for_closure_actions // PRF -> 07-assigned_for_closure_actions"}

    - {key: resolve, value: "07-assigned_for_closure_actions -> *"}
    - {key: resolve.name, value: resolve}
    - {key: resolve.default, value: "3"}
    - {key: resolve.triage_operations, value: "EFR -> set_resolution // ECR -> set_resolution // RF -> set_resolution // PRF -> agree_to_sign,set_resolution // MOM -> set_resolution // RISK -> set_resolution // AI -> set_resolution // MEMO -> set_resolution // ECM1 -> set_resolution"}
    - {key: resolve.triage_permissions, value: "EFR -> MODIFY // ECR -> MODIFY // RF -> MODIFY // PRF -> MODIFY // MOM -> MODIFY // RISK -> MODIFY // AI -> MODIFY // MEMO -> MODIFY // ECM1 -> MODIFY"}
    - {key: resolve.triage_roles, value: "RF -> reviewer // PRF -> reviewer"}
    - {key: resolve.triage_status, value: "EFR -> closed // ECR -> closed // RF -> closed // PRF -> closed // MOM -> closed // RISK -> closed // AI -> closed // MEMO -> closed // ECM1 -> closed"}
    - {key: resolve.triage_set_resolution, value: "EFR -> fixed,rejected,duplicate // ECR -> fixed,rejected,duplicate // RF -> fixed,rejected // PRF -> fixed,rejected // MOM -> fixed // RISK -> fixed,rejected // AI -> fixed,rejected // MEMO -> fixed // ECM1 -> fixed,rejected"}

    - {key: reopen, value: "closed -> *"}
    - {key: reopen.name, value: reopen}
    - {key: reopen.default, value: "1"}
    - {key: reopen.triage_permissions, value: "EFR -> CREATE // ECR -> CREATE // RF -> CREATE // PRF -> CREATE // MOM -> CREATE // RISK -> CREATE // AI -> CREATE // MEMO -> CREATE // ECM1 -> CREATE // ECM2 -> CREATE // FEE -> CREATE // DOC -> CREATE"}
    - {key: reopen.triage_status, value: "EFR -> * // ECR -> * // RF -> * // PRF -> * // MOM -> * // RISK -> * // AI -> * // MEMO -> * // ECM1 -> * // ECM2 -> * // FEE -> * // DOC -> *"}
    - {key: reopen.triage_operations, value: "DOC -> tag_document,set_version_status"}

    - {key: change_resolution, value: "closed -> closed"}
    - {key: change_resolution.name, value: change resolution}
    - {key: change_resolution.default, value: "1"}
    - {key: change_resolution.triage_operations, value: "EFR -> set_resolution // ECR -> set_resolution // RF -> set_resolution // PRF -> set_resolution // MOM -> set_resolution // RISK -> set_resolution // AI -> set_resolution // MEMO -> set_resolution // ECM1 -> set_resolution"}
    - {key: change_resolution.triage_permissions, value: "EFR -> AUTHORIZE // ECR -> AUTHORIZE // RF -> AUTHORIZE // PRF -> AUTHORIZE // MOM -> AUTHORIZE // RISK -> AUTHORIZE // AI -> AUTHORIZE // MEMO -> AUTHORIZE // ECM1 -> AUTHORIZE"}
    - {key: change_resolution.triage_roles, value: "RF -> reviewer // PRF -> reviewer"}
    - {key: change_resolution.triage_set_resolution, value: "EFR -> fixed,rejected,duplicate // ECR -> fixed,rejected,duplicate // RF -> fixed,rejected // PRF -> fixed,rejected // MOM -> fixed // RISK -> fixed,rejected // AI -> fixed,rejected // MEMO -> fixed // ECM1 -> fixed,rejected"}

    - {key: reassign, value: "* -> *"}
    - {key: reassign.name, value: "*"}
    - {key: reassign.default, value: "2"}
    - {key: reassign.triage_operations, value: "EFR -> set_owner // ECR -> set_owner // RF -> set_owner // PRF -> set_owner // MOM -> set_owner // RISK -> set_owner // AI -> set_owner // MEMO -> set_owner // ECM1 -> set_owner // ECM2 -> set_owner // FEE -> set_owner // DOC -> set_owner"}
    - {key: reassign.triage_permissions, value: "EFR -> MODIFY // ECR -> MODIFY // RF -> MODIFY // PRF -> MODIFY // MOM -> MODIFY // RISK -> MODIFY // AI -> MODIFY // MEMO -> MODIFY // ECM1 -> MODIFY // ECM2 -> MODIFY // FEE -> MODIFY // DOC -> MODIFY"}

    - {key: view, value: "* -> *"}
    - {key: view.name, value: view}
    - {key: view.default, value: "0"}
    - {key: view.triage_permissions, value: "EFR -> MODIFY // ECR -> MODIFY // RF -> MODIFY // PRF -> MODIFY // MOM -> MODIFY // RISK -> MODIFY // AI -> MODIFY // MEMO -> MODIFY // ECM1 -> MODIFY // ECM2 -> MODIFY // FEE -> MODIFY // DOC -> MODIFY"}

    - {key: abort, value: "* -> closed"}
    - {key: abort.name, value: abort}
    - {key: abort.default, value: "1"}
    - {key: abort.triage_operations, value: "EFR -> set_resolution // ECR -> set_resolution // RF -> set_resolution // PRF -> set_resolution // MOM -> set_resolution // RISK -> set_resolution // AI -> set_resolution // MEMO -> set_resolution // ECM1 -> set_resolution // ECM2 -> set_resolution // FEE -> set_resolution // DOC -> set_resolution"}
    - {key: abort.triage_permissions, value: "EFR -> AUTHORIZE // ECR -> AUTHORIZE // RF -> AUTHORIZE // PRF -> AUTHORIZE // MOM -> AUTHORIZE // RISK -> AUTHORIZE // AI -> AUTHORIZE // MEMO -> AUTHORIZE // ECM1 -> AUTHORIZE // ECM2 -> AUTHORIZE // FEE -> AUTHORIZE // DOC -> AUTHORIZE"}
    - {key: abort.triage_roles, value: "RF -> reviewer // PRF -> reviewer"}
    - {key: abort.triage_set_resolution, value: "EFR -> rejected // ECR -> rejected // RF -> rejected // PRF -> rejected // MOM -> rejected // RISK -> rejected // AI -> rejected // MEMO -> rejected // ECM1 -> rejected // ECM2 -> rejected // FEE -> rejected // DOC -> rejected"}

    - {key: assign_for_peer_review, value: "01-assigned_for_edition -> *"}
    - {key: assign_for_peer_review.name, value: assign for peer review}
    - {key: assign_for_peer_review.default, value: "4"}
    - {key: assign_for_peer_review.triage_permissions, value: "DOC -> MODIFY"}
    - {key: assign_for_peer_review.triage_status, value: "DOC -> 02-assigned_for_peer_review"}
    - {key: assign_for_peer_review.triage_operations, value: "DOC -> set_owner,tag_document,set_version_status"}

    - {key: assign_for_edition, value: "02-assigned_for_peer_review -> *"}
    - {key: assign_for_edition.name, value: assign for edition}
    - {key: assign_for_edition.default, value: "3"}
    - {key: assign_for_edition.triage_permissions, value: "DOC -> MODIFY"}
    - {key: assign_for_edition.triage_status, value: "DOC -> 01-assigned_for_edition"}
    - {key: assign_for_edition.triage_operations, value: "DOC -> set_owner,tag_document,set_version_status"}

    - {key: abort_peer_review, value: "02-assigned_for_peer_review -> *"}
    - {key: abort_peer_review.name, value: abort peer review}
    - {key: abort_peer_review.default, value: "1"}
    - {key: abort_peer_review.triage_permissions, value: "DOC -> AUTHORIZE"}
    - {key: abort_peer_review.triage_status, value: "DOC -> 01-assigned_for_edition"}
    - {key: abort_peer_review.triage_operations, value: "DOC -> set_owner_to_peer,remove_tag,set_version_status"}

    - {key: assign_for_formal_review, value: "01-assigned_for_edition -> *"}
    - {key: assign_for_formal_review.name, value: assign for formal review}
    - {key: assign_for_formal_review.default, value: "3"}
    - {key: assign_for_formal_review.triage_permissions, value: "DOC -> MODIFY"}
    - {key: assign_for_formal_review.triage_status, value: "DOC -> 03-assigned_for_formal_review"}
    - {key: assign_for_formal_review.triage_operations, value: "DOC -> set_owner,tag_document,set_version_status"}

    - {key: abort_formal_review, value: "03-assigned_for_formal_review -> *"}
    - {key: abort_formal_review.name, value: abort formal review}
    - {key: abort_formal_review.default, value: "1"}
    - {key: abort_formal_review.triage_permissions, value: "DOC -> AUTHORIZE"}
    - {key: abort_formal_review.triage_status, value: "DOC -> 01-assigned_for_edition"}
    - {key: abort_formal_review.triage_operations, value: "DOC -> set_owner_to_peer,remove_tag,set_version_status"}

    - {key: return_to_peer_review, value: "03-assigned_for_formal_review -> *"}
    - {key: return_to_peer_review.name, value: return to peer review}
    - {key: return_to_peer_review.default, value: "2"}
    - {key: return_to_peer_review.triage_permissions, value: "DOC -> MODIFY"}
    - {key: return_to_peer_review.triage_status, value: "DOC -> 02-assigned_for_peer_review"}
    - {key: return_to_peer_review.triage_operations, value: "DOC -> set_owner,remove_tag,return_to_review"}

    - {key: return_to_formal_review, value: "04-assigned_for_approval -> *"}
    - {key: return_to_formal_review.name, value: return to formal review}
    - {key: return_to_formal_review.default, value: "2"}
    - {key: return_to_formal_review.triage_permissions, value: "DOC -> MODIFY"}
    - {key: return_to_formal_review.triage_status, value: "DOC -> 03-assigned_for_formal_review"}
    - {key: return_to_formal_review.triage_operations, value: "DOC -> set_owner_to_peer,remove_tag,return_to_review"}

    - {key: assign_for_approval, value: "03-assigned_for_formal_review -> *"}
    - {key: assign_for_approval.name, value: assign for approval}
    - {key: assign_for_approval.default, value: "4"}
    - {key: assign_for_approval.triage_permissions, value: "DOC -> MODIFY"}
    - {key: assign_for_approval.triage_roles, value: "DOC -> approver"}
    - {key: assign_for_approval.triage_status, value: "DOC -> 04-assigned_for_approval"}
    - {key: assign_for_approval.triage_operations, value: "DOC -> set_owner_to_role,sign_as_author,apply_reviewers_signatures"}

    - {key: reassign_for_approval, value: "04-assigned_for_approval -> *"}
    - {key: reassign_for_approval.name, value: reassign for approval}
    - {key: reassign_for_approval.default, value: "2"}
    - {key: reassign_for_approval.triage_permissions, value: "DOC -> CREATE"}
    - {key: reassign_for_approval.triage_roles, value: "DOC -> approver"}
    - {key: reassign_for_approval.triage_status, value: "DOC -> 04-assigned_for_approval"}
    - {key: reassign_for_approval.triage_operations, value: "DOC -> set_owner_to_role"}

    - {key: abort_approval, value: "04-assigned_for_approval -> *"}
    - {key: abort_approval.name, value: abort approval}
    - {key: abort_approval.default, value: "1"}
    - {key: abort_approval.triage_permissions, value: "DOC -> AUTHORIZE"}
    - {key: abort_approval.triage_status, value: "DOC -> 03-assigned_for_formal_review"}
    - {key: abort_approval.triage_operations, value: "DOC -> set_owner_to_role"}

    - {key: approve, value: "04-assigned_for_approval -> *"}
    - {key: approve.name, value: approve}
    - {key: approve.default, value: "4"}
    - {key: approve.triage_permissions, value: "DOC -> MODIFY"}
    - {key: approve.triage_status, value: "DOC -> 05-approved"}
    - {key: approve.triage_operations, value: "DOC -> set_owner_to_peer,sign_as_approver"}

    - {key: release, value: "05-approved -> *"}
    - {key: release.name, value: release}
    - {key: release.default, value: "4"}
    - {key: release.triage_permissions, value: "DOC -> MODIFY"}
    - {key: release.triage_roles, value: "DOC -> configuration-manager"}
    - {key: release.triage_status, value: "DOC -> 06-assigned_for_release"}
    - {key: release.triage_operations, value: "DOC -> set_owner_to_role,tag_document,set_version_status"}

    - {key: abort_release, value: "06-assigned_for_release -> *"}
    - {key: abort_release.name, value: abort release}
    - {key: abort_release.default, value: "1"}
    - {key: abort_release.triage_permissions, value: "DOC -> AUTHORIZE"}
    - {key: abort_release.triage_status, value: "DOC -> 05-approved"}
    - {key: abort_release.triage_operations, value: "DOC -> set_owner_to_role"}

    - {key: close, value: "06-assigned_for_release -> *"}
    - {key: close.name, value: close}
    - {key: close.default, value: "3"}
    - {key: close.triage_operations, value: "DOC -> set_resolution"}
    - {key: close.triage_permissions, value: "DOC -> MODIFY"}
    - {key: close.triage_status, value: "DOC -> closed"}
    - {key: close.triage_set_resolution, value: "DOC -> fixed"}

    - {key: assign_for_review, value: "01-assigned_for_edition -> *"}
    - {key: assign_for_review.name, value: assign for piloting of review}
    - {key: assign_for_review.default, value: "4"}
    - {key: assign_for_review.triage_permissions, value: "ECM2 -> MODIFY"}
    - {key: assign_for_review.triage_status, value: "ECM2 -> 02-assigned_for_review"}
    - {key: assign_for_review.triage_operations, value: "ECM2 -> set_owner,tag_document"}

    - {key: assign_for_optional_review, value: "02-assigned_for_review -> *"}
    - {key: assign_for_optional_review.name, value: assign for optional review}
    - {key: assign_for_optional_review.default, value: "3"}
    - {key: assign_for_optional_review.triage_permissions, value: "ECM2 -> MODIFY"}
    - {key: assign_for_optional_review.triage_status, value: "ECM2 -> 02-assigned_for_review"}
    - {key: assign_for_optional_review.triage_operations, value: "ECM2 -> tag_document,set_version_status"}

    - {key: assign_for_optional_approval, value: "02-assigned_for_review -> *"}
    - {key: assign_for_optional_approval.name, value: assign for optional approval}
    - {key: assign_for_optional_approval.default, value: "3"}
    - {key: assign_for_optional_approval.triage_permissions, value: "ECM2 -> MODIFY"}
    - {key: assign_for_optional_approval.triage_roles, value: "ECM2 -> approver"}
    - {key: assign_for_optional_approval.triage_status, value: "ECM2 -> 03-assigned_for_approval"}
    - {key: assign_for_optional_approval.triage_operations, value: "ECM2 -> set_owner_to_role,sign_as_author,apply_reviewers_signatures"}

    - {key: reassign_for_optional_approval, value: "03-assigned_for_approval -> *"}
    - {key: reassign_for_optional_approval.name, value: reassign for optional approval}
    - {key: reassign_for_optional_approval.default, value: "2"}
    - {key: reassign_for_optional_approval.triage_permissions, value: "ECM2 -> CREATE"}
    - {key: reassign_for_optional_approval.triage_roles, value: "ECM2 -> approver"}
    - {key: reassign_for_optional_approval.triage_status, value: "ECM2 -> 03-assigned_for_approval"}
    - {key: reassign_for_optional_approval.triage_operations, value: "ECM2 -> set_owner_to_role"}

    - {key: abort_optional_approval, value: "03-assigned_for_approval -> *"}
    - {key: abort_optional_approval.name, value: abort optional approval}
    - {key: abort_optional_approval.default, value: "1"}
    - {key: abort_optional_approval.triage_permissions, value: "ECM2 -> AUTHORIZE"}
    - {key: abort_optional_approval.triage_status, value: "ECM2 -> *"}
    - {key: abort_optional_approval.triage_operations, value: "ECM2 -> set_owner_to_peer"}

    - {key: optional_approve, value: "03-assigned_for_approval -> *"}
    - {key: optional_approve.name, value: optional approve}
    - {key: optional_approve.default, value: "4"}
    - {key: optional_approve.triage_permissions, value: "ECM2 -> MODIFY"}
    - {key: optional_approve.triage_status, value: "ECM2 -> 04-approved"}
    - {key: optional_approve.triage_operations, value: "ECM2 -> set_owner_to_peer,sign_as_approver"}

    - {key: assign_for_sending, value: "02-assigned_for_review,04-approved -> *"}
    - {key: assign_for_sending.name, value: assign for sending}
    - {key: assign_for_sending.default, value: "4"}
    - {key: assign_for_sending.triage_permissions, value: "ECM2 -> MODIFY"}
    - {key: assign_for_sending.triage_roles, value: "ECM2 -> sender"}
    - {key: assign_for_sending.triage_status, value: "ECM2 -> 05-assigned_for_sending"}
    - {key: assign_for_sending.triage_operations, value: "ECM2 -> set_owner_to_role,sign_as_author,apply_reviewers_signatures"}

    - {key: abort_sending, value: "05-assigned_for_sending -> *"}
    - {key: abort_sending.name, value: abort sending}
    - {key: abort_sending.default, value: "1"}
    - {key: abort_sending.triage_permissions, value: "ECM2 -> AUTHORIZE"}
    - {key: abort_sending.triage_status, value: "ECM2 -> *"}
    - {key: abort_sending.triage_operations, value: "ECM2 -> set_owner_to_peer"}

    - {key: send, value: "05-assigned_for_sending -> *"}
    - {key: send.name, value: send}
    - {key: send.default, value: "4"}
    - {key: send.triage_permissions, value: "ECM2 -> MODIFY"}
    - {key: send.triage_status, value: "ECM2 -> closed"}
    - {key: send.triage_operations, value: "ECM2 -> sign_as_sender,send_emails,set_resolution"}
    - {key: send.triage_set_resolution, value: "ECM2 -> fixed"}

    - {key: assign_for_fee_review_management, value: "01-assigned_for_edition -> *"}
    - {key: assign_for_fee_review_management.name, value: assign for review management}
    - {key: assign_for_fee_review_management.default, value: "4"}
    - {key: assign_for_fee_review_management.triage_permissions, value: "FEE -> MODIFY"}
    - {key: assign_for_fee_review_management.triage_status, value: "FEE -> 02-assigned_for_review_management"}
    - {key: assign_for_fee_review_management.triage_operations, value: "FEE -> set_owner,tag_document,set_version_status"}

    - {key: assign_for_fee_internal_approval_management, value: "02-assigned_for_review_management -> *"}
    - {key: assign_for_fee_internal_approval_management.name, value: assign for internal approval management}
    - {key: assign_for_fee_internal_approval_management.default, value: "4"}
    - {key: assign_for_fee_internal_approval_management.triage_permissions, value: "FEE -> MODIFY"}
    - {key: assign_for_fee_internal_approval_management.triage_status, value: "FEE -> 03-assigned_for_internal_approval_management"}
    - {key: assign_for_fee_internal_approval_management.triage_operations, value: "FEE -> set_owner,sign_as_author,apply_reviewers_signatures"}

    - {key: assign_for_fee_approval, value: "03-assigned_for_internal_approval_management -> *"}
    - {key: assign_for_fee_approval.name, value: assign for approval}
    - {key: assign_for_fee_approval.default, value: "4"}
    - {key: assign_for_fee_approval.triage_permissions, value: "FEE -> MODIFY"}
    - {key: assign_for_fee_approval.triage_roles, value: "FEE -> approver"}
    - {key: assign_for_fee_approval.triage_status, value: "FEE -> 04-assigned_for_approval"}
    - {key: assign_for_fee_approval.triage_operations, value: "FEE -> set_owner_to_role"}

    - {key: abort_fee_approval, value: "04-assigned_for_approval -> *"}
    - {key: abort_fee_approval.name, value: abort approval}
    - {key: abort_fee_approval.default, value: "1"}
    - {key: abort_fee_approval.triage_permissions, value: "FEE -> AUTHORIZE"}
    - {key: abort_fee_approval.triage_status, value: "FEE -> 03-assigned_for_internal_approval_management"}
    - {key: abort_fee_approval.triage_operations, value: "FEE -> set_owner_to_peer"}

    - {key: approve_fee, value: "04-assigned_for_approval -> *"}
    - {key: approve_fee.name, value: approve}
    - {key: approve_fee.default, value: "4"}
    - {key: approve_fee.triage_permissions, value: "FEE -> MODIFY"}
    - {key: approve_fee.triage_status, value: "FEE -> 05-assigned_for_customer_approval_management"}
    - {key: approve_fee.triage_operations, value: "FEE -> set_owner_to_peer,sign_as_approver"}

    - {key: assign_for_fee_closure, value: "05-assigned_for_customer_approval_management -> *"}
    - {key: assign_for_fee_closure.name, value: assign for closure actions}
    - {key: assign_for_fee_closure.default, value: "4"}
    - {key: assign_for_fee_closure.triage_permissions, value: "FEE -> MODIFY"}
    - {key: assign_for_fee_closure.triage_status, value: "FEE -> 06-assigned_for_closure_actions"}
    - {key: assign_for_fee_closure.triage_operations, value: "FEE -> set_owner"}

    - {key: resolve_fee, value: "06-assigned_for_closure_actions -> *"}
    - {key: resolve_fee.name, value: resolve}
    - {key: resolve_fee.default, value: "3"}
    - {key: resolve_fee.triage_operations, value: "FEE -> set_resolution"}
    - {key: resolve_fee.triage_permissions, value: "FEE -> MODIFY"}
    - {key: resolve_fee.triage_status, value: "FEE -> closed"}
    - {key: resolve_fee.triage_set_resolution, value: "FEE -> fixed,rejected"}

rbac:
  roles:
    admin:
      description: "Full control, bypasses every gate"
      permissions: [MODIFY, CREATE, AUTHORIZE, ADMIN]
    authorized:
      description: "May abort and change resolutions on items of others"
      permissions: [MODIFY, CREATE, AUTHORIZE]
    developer:
      description: "May create items and reassign them"
      permissions: [MODIFY, CREATE]
    authenticated:
      description: "May act on own items"
      permissions: [MODIFY]
  role_groups:
    - Developer
    - Quality
    - Project Manager
    - Program Manager
    - Trade Compliance
    - Configuration Manager

signing:
  tc_required: true
  tc_delegated: false
  capacities:
    Word: 6
    Excel: 6
`
