// Package verifactu contiene catálogos y validaciones del sistema VeriFactu de la AEAT
// (Orden HAC/1177/2024 y especificaciones técnicas de los servicios web de la AEAT).
package verifactu

// Entornos de ejecución del envío.
const (
	EnvDev  = "dev"  // no sale de la máquina: gateway simulado
	EnvTest = "test" // entorno de pruebas (preproducción AEAT)
	EnvProd = "prod" // producción
)

// Endpoints SOAP del servicio VeriFactu (requieren certificado cliente).
const (
	EndpointTest = "https://prewww1.aeat.es/wlpl/TIKE-CONT/ws/SistemaFacturacion/VerifactuSOAP"
	EndpointProd = "https://www1.agenciatributaria.gob.es/wlpl/TIKE-CONT/ws/SistemaFacturacion/VerifactuSOAP"
)

// URLs del servicio de cotejo de facturas por QR.
const (
	QRBaseTest = "https://prewww2.aeat.es/wlpl/TIKE-CONT/ValidarQR"
	QRBaseProd = "https://www2.agenciatributaria.gob.es/wlpl/TIKE-CONT/ValidarQR"
)

// Espacios de nombres del esquema SuministroLR.
const (
	NSSoapEnv       = "http://schemas.xmlsoap.org/soap/envelope/"
	NSSuministroLR  = "https://www2.agenciatributaria.gob.es/static_files/common/internet/dep/aplicaciones/es/aeat/tike/cont/ws/SuministroLR.xsd"
	NSSuministroInf = "https://www2.agenciatributaria.gob.es/static_files/common/internet/dep/aplicaciones/es/aeat/tike/cont/ws/SuministroInformacion.xsd"
	NSRespuesta     = "https://www2.agenciatributaria.gob.es/static_files/common/internet/dep/aplicaciones/es/aeat/tike/cont/ws/RespuestaSuministro.xsd"
)

// Valores fijos del registro.
const (
	IDVersion           = "1.0"
	TipoHuellaSHA256    = "01"
	TipoFacturaCompleta = "F1" // Factura (art. 6, 7.2 y 7.3 del RD 1619/2012)
)

// Estados devueltos por la AEAT en la respuesta.
const (
	EstadoEnvioCorrecto             = "Correcto"
	EstadoEnvioParcialmenteCorrecto = "ParcialmenteCorrecto"
	EstadoEnvioIncorrecto           = "Incorrecto"

	EstadoRegistroCorrecto           = "Correcto"
	EstadoRegistroAceptadoConErrores = "AceptadoConErrores"
	EstadoRegistroIncorrecto         = "Incorrecto"
)

// Endpoint devuelve la URL SOAP del entorno; vacío en dev.
func Endpoint(env string) string {
	switch env {
	case EnvProd:
		return EndpointProd
	case EnvTest:
		return EndpointTest
	default:
		return ""
	}
}

// ValidEnv indica si el entorno es conocido.
func ValidEnv(env string) bool {
	return env == EnvDev || env == EnvTest || env == EnvProd
}
