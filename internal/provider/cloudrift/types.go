package cloudrift

import "encoding/json"

// apiVersion is the CloudRift API version sent in every request envelope.
const apiVersion = "~upcoming"

// envelope wraps every CloudRift request and response body.
type envelope struct {
	Version string          `json:"version,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// rentRequest is the body of POST /api/v1/instances/rent.
type rentRequest struct {
	Selector     rentSelector `json:"selector"`
	Config       rentConfig   `json:"config"`
	WithPublicIP bool         `json:"with_public_ip"`
	Ports        []string     `json:"ports,omitempty"`
}

type rentSelector struct {
	ByInstanceTypeAndLocation byInstanceType `json:"ByInstanceTypeAndLocation"`
}

type byInstanceType struct {
	InstanceType string `json:"instance_type"`
}

type rentConfig struct {
	VirtualMachine vmConfig `json:"VirtualMachine"`
}

type vmConfig struct {
	SSHKey       vmSSHKey `json:"ssh_key"`
	ImageURL     string   `json:"image_url"`
	CloudInitURL string   `json:"cloudinit_url,omitempty"`
}

type vmSSHKey struct {
	PublicKeys []string `json:"PublicKeys"`
}

// rentResponse is the data section of a rent response.
type rentResponse struct {
	InstanceIDs []string `json:"instance_ids"`
}

// idSelector selects instances by ID for terminate and list calls.
type idSelector struct {
	Selector struct {
		ByID []string `json:"ById"`
	} `json:"selector"`
}

func selectByID(ids ...string) idSelector {
	var s idSelector
	s.Selector.ByID = ids
	return s
}

// listResponse is the data section of a list response.
type listResponse struct {
	Instances []instanceInfo `json:"instances"`
}

// instanceInfo is one instance as reported by the list API. Port mappings
// are [internal, external] pairs.
type instanceInfo struct {
	ID              string           `json:"id"`
	Status          string           `json:"status"`
	HostAddress     string           `json:"host_address"`
	PortMappings    [][2]int         `json:"port_mappings"`
	VirtualMachines []virtualMachine `json:"virtual_machines"`
}

type virtualMachine struct {
	LoginInfo loginInfo `json:"login_info"`
}

type loginInfo struct {
	UsernameAndPassword usernamePassword `json:"UsernameAndPassword"`
}

type usernamePassword struct {
	Username string `json:"username"`
}

// sshKeysResponse is the data section of an ssh-keys list response.
type sshKeysResponse struct {
	Keys []sshKey `json:"keys"`
}

type sshKey struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
}

// addKeyRequest is the body of POST /api/v1/ssh-keys/add.
type addKeyRequest struct {
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
}

// addKeyResponse is the data section of an ssh-keys add response.
type addKeyResponse struct {
	SSHKey sshKey `json:"ssh_key"`
}
