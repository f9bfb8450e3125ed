//go:build linux

package bleadapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/muka/go-bluetooth/api"
	"github.com/muka/go-bluetooth/bluez/profile/adapter"
	"github.com/muka/go-bluetooth/bluez/profile/advertising"
	"github.com/muka/go-bluetooth/bluez/profile/device"
)

// Adapter controla o adaptador Bluetooth local via BlueZ.
type Adapter struct {
	adapter  *adapter.Adapter1
	ctx      context.Context
	cancel   context.CancelFunc

	mu            sync.Mutex
	scanning      bool
	advertising   bool
	onDiscover    DiscoveryCallback
	stopAdvertise func()
}

// NewAdapter obtém o adaptador Bluetooth padrão do sistema e o liga, se
// necessário.
func NewAdapter() (*Adapter, error) {
	a, err := api.GetDefaultAdapter()
	if err != nil {
		return nil, fmt.Errorf("bleadapter: erro ao obter adaptador: %w", err)
	}

	powered, err := a.GetPowered()
	if err != nil {
		return nil, fmt.Errorf("bleadapter: erro ao verificar estado do adaptador: %w", err)
	}
	if !powered {
		if err := a.SetPowered(true); err != nil {
			return nil, fmt.Errorf("bleadapter: erro ao ligar adaptador: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{adapter: a, ctx: ctx, cancel: cancel}, nil
}

// StartAdvertising expõe rawAdvertisement (o Base64/bytes já produzidos
// por internal/advertisement) como dado de serviço BLE sob ServiceUUID.
func (a *Adapter) StartAdvertising(rawAdvertisement []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.advertising {
		return nil
	}

	props := &advertising.LEAdvertisement1Properties{
		Type:         advertising.AdvertisementTypeBroadcast,
		ServiceUUIDs: []string{ServiceUUID},
		ServiceData: map[string]interface{}{
			ServiceUUID: rawAdvertisement,
		},
		Includes: []string{advertising.SupportedIncludesTxPower},
	}

	adapterID, err := a.adapter.GetAdapterID()
	if err != nil {
		return fmt.Errorf("bleadapter: erro ao obter id do adaptador: %w", err)
	}

	cleanup, err := api.ExposeAdvertisement(adapterID, props, 0)
	if err != nil {
		return fmt.Errorf("bleadapter: erro ao expor anúncio: %w", err)
	}

	a.stopAdvertise = cleanup
	a.advertising = true
	return nil
}

// StopAdvertising interrompe o anúncio iniciado por StartAdvertising.
func (a *Adapter) StopAdvertising() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.advertising {
		return nil
	}
	if a.stopAdvertise != nil {
		a.stopAdvertise()
	}
	a.advertising = false
	return nil
}

// StartScanning inicia a descoberta BLE filtrada por ServiceUUID; onDiscover
// é chamado uma vez por dispositivo visto com o serviço anunciado.
func (a *Adapter) StartScanning(onDiscover DiscoveryCallback) error {
	a.mu.Lock()
	if a.scanning {
		a.mu.Unlock()
		return nil
	}
	a.onDiscover = onDiscover
	a.scanning = true
	a.mu.Unlock()

	filter := adapter.NewDiscoveryFilter()
	filter.Transport = "le"
	filter.UUIDs = []string{ServiceUUID}
	if err := a.adapter.SetDiscoveryFilter(filter.ToMap()); err != nil {
		return fmt.Errorf("bleadapter: erro ao configurar filtro de descoberta: %w", err)
	}

	events, cancel, err := api.Discover(a.adapter, nil)
	if err != nil {
		return fmt.Errorf("bleadapter: erro ao iniciar descoberta: %w", err)
	}

	go func() {
		defer cancel()
		for {
			select {
			case <-a.ctx.Done():
				return
			case ev := <-events:
				if ev.Type != adapter.DeviceAdded {
					continue
				}

				dev, err := device.NewDevice1(ev.Path)
				if err != nil {
					continue
				}
				uuids, err := dev.GetUUIDs()
				if err != nil || !containsUUID(uuids, ServiceUUID) {
					continue
				}
				serviceData, err := dev.GetServiceData()
				if err != nil {
					continue
				}
				raw, ok := serviceData[ServiceUUID].([]byte)
				if !ok {
					continue
				}
				addr, err := dev.GetAddress()
				if err != nil {
					continue
				}

				a.mu.Lock()
				cb := a.onDiscover
				a.mu.Unlock()
				if cb != nil {
					cb(addr, raw)
				}
			}
		}
	}()

	return nil
}

// StopScanning interrompe a descoberta iniciada por StartScanning.
func (a *Adapter) StopScanning() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.scanning {
		return nil
	}
	if err := a.adapter.StopDiscovery(); err != nil {
		return fmt.Errorf("bleadapter: erro ao parar descoberta: %w", err)
	}
	a.scanning = false
	return nil
}

// Close libera o adaptador e encerra qualquer anúncio/descoberta ativos.
func (a *Adapter) Close() error {
	a.cancel()
	_ = a.StopAdvertising()
	_ = a.StopScanning()
	return nil
}

func containsUUID(uuids []string, target string) bool {
	for _, uuid := range uuids {
		if uuid == target {
			return true
		}
	}
	return false
}
