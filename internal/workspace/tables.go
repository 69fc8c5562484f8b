package workspace

// Default auxiliary table names.
const (
	ProjectsTable              = "projects"
	ProjectMembershipsTable    = "project_memberships"
	UsersTable                 = "users"
	FollowersTable             = "followers"
	CustomFieldsTable          = "custom_fields"
	CustomFieldEnumValuesTable = "custom_field_enum_values"
	CustomFieldValuesTable     = "custom_field_values"
)

// TableNames holds the auxiliary table names. Empty names fall back to the
// defaults; configured names are used verbatim.
type TableNames struct {
	Projects              string `mapstructure:"projects" toml:"projects,omitempty" yaml:"projects,omitempty"`
	ProjectMemberships    string `mapstructure:"project_memberships" toml:"project_memberships,omitempty" yaml:"project_memberships,omitempty"`
	Users                 string `mapstructure:"users" toml:"users,omitempty" yaml:"users,omitempty"`
	Followers             string `mapstructure:"followers" toml:"followers,omitempty" yaml:"followers,omitempty"`
	CustomFields          string `mapstructure:"custom_fields" toml:"custom_fields,omitempty" yaml:"custom_fields,omitempty"`
	CustomFieldEnumValues string `mapstructure:"custom_field_enum_values" toml:"custom_field_enum_values,omitempty" yaml:"custom_field_enum_values,omitempty"`
	CustomFieldValues     string `mapstructure:"custom_field_values" toml:"custom_field_values,omitempty" yaml:"custom_field_values,omitempty"`
}

// WithDefaults returns n with every empty name replaced by its default.
func (n TableNames) WithDefaults() TableNames {
	def := func(s, d string) string {
		if s == "" {
			return d
		}
		return s
	}
	return TableNames{
		Projects:              def(n.Projects, ProjectsTable),
		ProjectMemberships:    def(n.ProjectMemberships, ProjectMembershipsTable),
		Users:                 def(n.Users, UsersTable),
		Followers:             def(n.Followers, FollowersTable),
		CustomFields:          def(n.CustomFields, CustomFieldsTable),
		CustomFieldEnumValues: def(n.CustomFieldEnumValues, CustomFieldEnumValuesTable),
		CustomFieldValues:     def(n.CustomFieldValues, CustomFieldValuesTable),
	}
}

// All returns the names in creation order.
func (n TableNames) All() []string {
	return []string{
		n.Projects,
		n.ProjectMemberships,
		n.Users,
		n.Followers,
		n.CustomFields,
		n.CustomFieldEnumValues,
		n.CustomFieldValues,
	}
}
