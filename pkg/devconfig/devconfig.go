// Package devconfig defines the declarative device-configuration format
// consumed by the code-generation pipeline (spec §4.10), replacing the
// EDS/ini format the teacher parsed in od_parser.go. The schema mirrors
// zencan-build/src/device_config.rs (see DESIGN.md), translated from
// serde/TOML to yaml.v3-tagged Go structs.
package devconfig

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/canofirmware/nodestack/pkg/od"
)

// DataType names the OD data types a YAML author can reference by name.
type DataType string

const (
	TypeBoolean       DataType = "boolean"
	TypeInt8          DataType = "int8"
	TypeInt16         DataType = "int16"
	TypeInt32         DataType = "int32"
	TypeUInt8         DataType = "uint8"
	TypeUInt16        DataType = "uint16"
	TypeUInt32        DataType = "uint32"
	TypeReal32        DataType = "real32"
	TypeVisibleString DataType = "visible_string"
	TypeOctetString   DataType = "octet_string"
	TypeUnicodeString DataType = "unicode_string"
	TypeDomain        DataType = "domain"
)

// ODDataType converts the YAML-level type name into the runtime od.DataType.
func (d DataType) ODDataType() (od.DataType, error) {
	switch d {
	case TypeBoolean:
		return od.Boolean, nil
	case TypeInt8:
		return od.Int8, nil
	case TypeInt16:
		return od.Int16, nil
	case TypeInt32:
		return od.Int32, nil
	case TypeUInt8:
		return od.UInt8, nil
	case TypeUInt16:
		return od.UInt16, nil
	case TypeUInt32:
		return od.UInt32, nil
	case TypeReal32:
		return od.Real32, nil
	case TypeVisibleString:
		return od.VisibleString, nil
	case TypeOctetString:
		return od.OctetString, nil
	case TypeUnicodeString:
		return od.UnicodeString, nil
	case TypeDomain:
		return od.Domain, nil
	default:
		return 0, fmt.Errorf("devconfig: unknown data type %q", d)
	}
}

// AccessType names the OD access type a YAML author can reference by name.
type AccessType string

const (
	AccessRo    AccessType = "ro"
	AccessWo    AccessType = "wo"
	AccessRw    AccessType = "rw"
	AccessConst AccessType = "const"
)

func (a AccessType) ODAccessType() (od.AccessType, error) {
	switch a {
	case AccessRo:
		return od.Ro, nil
	case AccessWo:
		return od.Wo, nil
	case AccessRw, "":
		return od.Rw, nil
	case AccessConst:
		return od.Const, nil
	default:
		return 0, fmt.Errorf("devconfig: unknown access type %q", a)
	}
}

// PDOMapping names the PDO-mapping permission of a sub-object.
type PDOMapping string

const (
	PDOMapNone PDOMapping = "none"
	PDOMapTPDO PDOMapping = "tpdo"
	PDOMapRPDO PDOMapping = "rpdo"
	PDOMapBoth PDOMapping = "both"
)

func (m PDOMapping) ODMapping() od.PDOMapping {
	switch m {
	case PDOMapTPDO:
		return od.MapTPDO
	case PDOMapRPDO:
		return od.MapRPDO
	case PDOMapBoth:
		return od.MapBoth
	default:
		return od.MapNone
	}
}

// SubDefinition describes one sub-index of a Record object.
type SubDefinition struct {
	SubIndex      uint8      `yaml:"sub_index"`
	ParameterName string     `yaml:"parameter_name"`
	FieldName     string     `yaml:"field_name,omitempty"`
	DataType      DataType   `yaml:"data_type"`
	AccessType    AccessType `yaml:"access_type"`
	PDOMapping    PDOMapping `yaml:"pdo_mapping,omitempty"`
	Persist       bool       `yaml:"persist,omitempty"`
	DefaultValue  string     `yaml:"default_value,omitempty"`
}

// VarDefinition describes a single-value object (sub 0 holds the value).
type VarDefinition struct {
	DataType     DataType   `yaml:"data_type"`
	AccessType   AccessType `yaml:"access_type"`
	PDOMapping   PDOMapping `yaml:"pdo_mapping,omitempty"`
	Persist      bool       `yaml:"persist,omitempty"`
	DefaultValue string     `yaml:"default_value,omitempty"`
}

// ArrayDefinition describes a contiguous same-typed object; sub 0 holds the
// highest populated index.
type ArrayDefinition struct {
	DataType      DataType   `yaml:"data_type"`
	AccessType    AccessType `yaml:"access_type"`
	PDOMapping    PDOMapping `yaml:"pdo_mapping,omitempty"`
	Persist       bool       `yaml:"persist,omitempty"`
	ArraySize     uint8      `yaml:"array_size"`
	DefaultValues []string   `yaml:"default_values,omitempty"`
}

// RecordDefinition describes a heterogeneous object made of SubDefinitions.
type RecordDefinition struct {
	Subs []SubDefinition `yaml:"subs"`
}

// ObjectDefinition is one entry in the device config's object list.
// Exactly one of Var/Array/Record/Domain should be set, selected by
// ObjectType.
type ObjectDefinition struct {
	Index                uint16            `yaml:"index"`
	ParameterName        string            `yaml:"parameter_name"`
	ObjectType           string            `yaml:"object_type"`
	ApplicationCallback  bool              `yaml:"application_callback,omitempty"`
	Var                  *VarDefinition    `yaml:"var,omitempty"`
	Array                *ArrayDefinition  `yaml:"array,omitempty"`
	Record               *RecordDefinition `yaml:"record,omitempty"`
}

// DeviceConfig is the top-level declarative device description consumed by
// the code generator (spec §4.10), mirroring zencan-build's DeviceConfig.
type DeviceConfig struct {
	VendorName        string             `yaml:"vendor_name"`
	VendorNumber      uint32             `yaml:"vendor_number"`
	ProductCode       uint32             `yaml:"product_code"`
	RevisionNumber    uint32             `yaml:"revision_number"`
	SerialNumber      uint32             `yaml:"serial_number"`
	SoftwareVersion   string             `yaml:"software_version"`
	HardwareVersion   string             `yaml:"hardware_version"`
	HeartbeatMs       uint16             `yaml:"heartbeat_ms"`
	// AutoStart seeds OD 0x5000 (spec §4.3): when true the node boots
	// directly to Operational instead of PreOperational. The value
	// remains writable over the bus after boot like any other Rw object.
	AutoStart         bool               `yaml:"auto_start,omitempty"`
	NumRPDO           uint8              `yaml:"num_rpdo"`
	NumTPDO           uint8              `yaml:"num_tpdo"`
	// BootloaderSections describes the flashable sections exposed under
	// 0x5510+s (spec §4.3, §9(iii)). The 0x5500 info object and the
	// section objects are added to the dictionary only when this list is
	// non-empty. A device with no bootloader support simply omits this.
	BootloaderSections []BootloaderSectionDef `yaml:"bootloader_sections,omitempty"`
	Objects            []ObjectDefinition     `yaml:"objects"`
}

// BootloaderSectionDef describes one OD 0x5510+s flashable section.
type BootloaderSectionDef struct {
	Name      string `yaml:"name"`
	SizeBytes uint32 `yaml:"size_bytes"`
}

// Parse decodes a YAML device configuration document.
func Parse(data []byte) (*DeviceConfig, error) {
	var cfg DeviceConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("devconfig: parse: %w", err)
	}
	return &cfg, nil
}

// Validate enforces the uniqueness rules from spec §4.10: object indices are
// unique, and each record's sub-indices are unique within that record.
func (c *DeviceConfig) Validate() error {
	if len(c.BootloaderSections) > 255 {
		return fmt.Errorf("devconfig: too many bootloader sections (%d, max 255)", len(c.BootloaderSections))
	}

	seen := make(map[uint16]bool, len(c.Objects))
	for _, obj := range c.Objects {
		if seen[obj.Index] {
			return fmt.Errorf("devconfig: duplicate object index 0x%04X", obj.Index)
		}
		seen[obj.Index] = true

		switch obj.ObjectType {
		case "var":
			if obj.Var == nil {
				return fmt.Errorf("devconfig: object 0x%04X declared var but has no var definition", obj.Index)
			}
		case "array":
			if obj.Array == nil {
				return fmt.Errorf("devconfig: object 0x%04X declared array but has no array definition", obj.Index)
			}
		case "record":
			if obj.Record == nil {
				return fmt.Errorf("devconfig: object 0x%04X declared record but has no record definition", obj.Index)
			}
			subsSeen := make(map[uint8]bool, len(obj.Record.Subs))
			for _, sub := range obj.Record.Subs {
				if subsSeen[sub.SubIndex] {
					return fmt.Errorf("devconfig: object 0x%04X has duplicate sub-index %d", obj.Index, sub.SubIndex)
				}
				subsSeen[sub.SubIndex] = true
			}
		case "domain":
			// no storage to validate
		default:
			return fmt.Errorf("devconfig: object 0x%04X has unknown object_type %q", obj.Index, obj.ObjectType)
		}
	}
	return nil
}
