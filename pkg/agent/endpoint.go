/*
Copyright 2023 The usp-agent-stomp Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package agent

import (
	"fmt"
	"net"
	"strings"

	"k8s.io/klog/v2"
)

// makeEndpointID derives the agent endpoint id in the os:: scheme:
// os::<OUI>-<PRODUCT>-<SERIAL>. The serial defaults to the MAC address of
// the configured WAN interface, read once at startup.
func makeEndpointID(cfg Config) string {
	oui := cfg.OUI
	if oui == "" {
		oui = "000000"
	}
	product := cfg.ProductClass
	if product == "" {
		product = "usp-agent"
	}
	serial := cfg.SerialNumber
	if serial == "" {
		serial = serialFromInterface(cfg.WANInterface)
	}
	return fmt.Sprintf("os::%s-%s-%s", oui, product, serial)
}

// serialFromInterface reads the MAC of the named interface, falling back to
// the first interface carrying a hardware address.
func serialFromInterface(name string) string {
	if name != "" {
		if iface, err := net.InterfaceByName(name); err == nil && len(iface.HardwareAddr) > 0 {
			return macToSerial(iface.HardwareAddr)
		}
		klog.Warningf("wan interface %q has no usable MAC, scanning interfaces", name)
	}
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
				continue
			}
			return macToSerial(iface.HardwareAddr)
		}
	}
	klog.Warning("no interface with a MAC address found, using default serial")
	return "000000000000"
}

func macToSerial(mac net.HardwareAddr) string {
	return strings.ToUpper(strings.ReplaceAll(mac.String(), ":", ""))
}
