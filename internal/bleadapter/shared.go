// Package bleadapter é o backend físico real (BlueZ via D-Bus) por trás
// do anúncio e da descoberta de curto alcance em Linux: anuncia os bytes
// já codificados por internal/advertisement como dado de serviço BLE e
// entrega anúncios descobertos de volta ao chamador para que
// internal/resolve os decifre — grounded no antigo
// internal/bluetooth/linux_adapter.go do teacher (removido após adaptação
// integral: nada mais no módulo o importava), adaptado de um transporte de
// chat em malha (GATT bidirecional ponto a ponto) para um transporte de
// descoberta unidirecional (advertise/scan), que é tudo que o núcleo de
// compartilhamento de fato precisa do rádio físico: a troca de dados em si
// acontece depois, sobre o MultiplexSocket de internal/multiplex.
//
// Este arquivo não tem build tag: declara o que é comum às duas variantes
// de plataforma (linux_adapter.go e stub.go), no mesmo espírito do antigo
// PlatformProvider do teacher — uma única interface exercida por um
// backend diferente por sistema operacional.
package bleadapter

import "errors"

// ServiceUUID identifica o serviço GATT do núcleo de compartilhamento no
// anúncio BLE — distinto do UUID de chat em malha do teacher, já que este
// pacote anuncia um protocolo diferente.
const ServiceUUID = "0000fef3-0000-1000-8000-00805f9b34fb"

// DiscoveryCallback recebe o endereço do dispositivo par e os bytes crus
// de anúncio vistos no campo de dado de serviço.
type DiscoveryCallback func(peerAddress string, rawAdvertisement []byte)

// ErrBluetoothNotAvailable é devolvido por NewAdapter quando não há rádio
// BlueZ utilizável — fora do Linux, ou num Linux sem adaptador ligado.
// cmd/nearbyctl trata isso como best-effort: loga e segue sem anúncio
// físico, do mesmo jeito que o teacher definia este erro para o provedor
// de plataforma do serviço de mesh Bluetooth reagir sem abortar.
var ErrBluetoothNotAvailable = errors.New("bleadapter: bluetooth não disponível nesta plataforma")
