package protocol

// Code identifies why a command was rejected.
type Code string

const (
	CodeInvalidMessage     Code = "INVALID_MESSAGE"
	CodeUnknownMessageType Code = "UNKNOWN_MESSAGE_TYPE"
	CodeInvalidCitySize    Code = "INVALID_CITY_SIZE"
	CodeRoomNotFound       Code = "ROOM_NOT_FOUND"
	CodeRoomFull           Code = "ROOM_FULL"
	CodeNotInRoom          Code = "NOT_IN_ROOM"
	CodeInvalidBuildData   Code = "INVALID_BUILD_DATA"
	CodeOutOfBounds        Code = "OUT_OF_BOUNDS"
	CodePositionOccupied   Code = "POSITION_OCCUPIED"
	CodeAlreadyInRoom      Code = "ALREADY_IN_ROOM"
)
